package mailer

import (
	"fmt"

	"followmail/models"
)

const (
	TestSubject     = "SMTP Test Successful"
	TestBody        = "Your email settings are working correctly."
	FollowupSubject = "Quick follow-up"
)

// FollowupBody renders the follow-up text for client, signed with the sender address.
func FollowupBody(user *models.User, client *models.Client) string {
	return fmt.Sprintf("Hi %s,\n\nJust following up on my previous message.\n\nBest regards,\n%s\n",
		client.Name, user.SMTPEmail)
}
