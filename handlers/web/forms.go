package web

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"followmail/models"
	"followmail/utils"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("form"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

type LoginForm struct {
	Email    string `form:"email" validate:"required,email"`
	Password string `form:"password" validate:"required"`
}

type SignupForm struct {
	Email    string `form:"email" validate:"required,email,max=254"`
	Password string `form:"password" validate:"required,min=8,max=72"`
}

// ClientForm is the add and edit client form
type ClientForm struct {
	Name         string `form:"name" validate:"required,max=200"`
	Email        string `form:"email" validate:"required,email,max=254"`
	FollowupDate string `form:"date" validate:"required,datetime=2006-01-02"`
}

// Date returns the parsed follow-up date.
func (f *ClientForm) Date() time.Time {
	d, _ := time.Parse(models.DateLayout, f.FollowupDate)
	return d
}

// RelayForm is the mail relay settings form. Port and TLS arrive as raw
// strings so that bad input becomes a ValidationError instead of a parse failure.
type RelayForm struct {
	SMTPEmail    string `form:"smtp_email" validate:"required,email"`
	SMTPHost     string `form:"smtp_host" validate:"required,hostname_rfc1123|ip"`
	SMTPPort     string `form:"smtp_port" validate:"required"`
	SMTPPassword string `form:"smtp_password"`
	SMTPTLS      string `form:"smtp_tls"`
}

// Port parses and range-checks the port field.
func (f *RelayForm) Port() (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(f.SMTPPort))
	if err != nil {
		return 0, utils.NewValidationError("smtp_port", "must be an integer")
	}
	if port < 1 || port > 65535 {
		return 0, utils.NewValidationError("smtp_port", "must be between 1 and 65535")
	}
	return port, nil
}

// TLS reports whether the checkbox was ticked.
func (f *RelayForm) TLS() bool {
	return f.SMTPTLS != ""
}

// parseForm decodes the request body into dst, trims string fields and
// validates them. Field problems are returned as *utils.ValidationError.
func parseForm(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		return utils.BadRequestError("Malformed form", err)
	}
	trimStrings(dst)

	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			verr := &utils.ValidationError{}
			for _, fe := range fieldErrs {
				verr.Add(fe.Field(), fieldMessage(fe))
			}
			return verr
		}
		return utils.BadRequestError("Invalid form", err)
	}
	return nil
}

func trimStrings(dst interface{}) {
	v := reflect.ValueOf(dst).Elem()
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if f.Kind() == reflect.String && f.CanSet() && v.Type().Field(i).Tag.Get("form") != "password" {
			f.SetString(strings.TrimSpace(f.String()))
		}
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "datetime":
		return "must be a date (YYYY-MM-DD)"
	case "hostname_rfc1123|ip":
		return "must be a host name or IP address"
	default:
		return "is invalid"
	}
}
