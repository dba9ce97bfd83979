package models

import "time"

// DateLayout is the wire and form format of follow-up dates
const DateLayout = "2006-01-02"

// Client is a contact that receives one follow-up email on FollowupDate
type Client struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	FollowupDate time.Time  `json:"followup_date"`
	Sent         bool       `json:"sent"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	AttemptCount int        `json:"attempt_count"`
	LastError    string     `json:"last_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// DueClient pairs a due client with its owner, whose relay sends the email
type DueClient struct {
	User   *User
	Client *Client
}

// DateOf returns the calendar date of t as midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today returns the current calendar date in loc.
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return DateOf(now.In(loc))
}

// SameDate compares the calendar dates of a and b as stored, ignoring the clock.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// FormatDate renders the follow-up date for forms and templates
func (c *Client) FormatDate() string {
	return c.FollowupDate.Format(DateLayout)
}

// IsDue reports whether client gets its follow-up on today. The SQL in
// storage.ClientStorage.ListDueClients selects exactly this set.
func IsDue(owner *User, client *Client, today time.Time) bool {
	if owner == nil || client == nil {
		return false
	}
	return SameDate(client.FollowupDate, today) && !client.Sent && owner.SMTPVerified
}
