// Package validate checks console form input before anything is sent to a
// backend.
package validate

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/phillip-england/clubadmin/internal/youtube"
)

var ErrValidation = errors.New("validation error")

// FieldError describes a validation failure for a single form field.
type FieldError struct {
	Field   string
	Message string
}

// Error collects every failing field of one submission.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	if len(e.Fields) == 1 {
		return fmt.Sprintf("%s: %s", e.Fields[0].Field, e.Fields[0].Message)
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("%d fields invalid (%s)", len(e.Fields), strings.Join(parts, "; "))
}

func (e *Error) Unwrap() error { return ErrValidation }

// For returns the message recorded for field, if any.
func (e *Error) For(field string) string {
	for _, f := range e.Fields {
		if f.Field == field {
			return f.Message
		}
	}
	return ""
}

// Rule names understood by Value.
const (
	RuleMobile  = "mobile"
	RuleEmail   = "email"
	RuleDate    = "date"
	RuleYouTube = "youtube"
	RulePincode = "pincode"
)

var (
	mobilePattern  = regexp.MustCompile(`^[0-9]{10}$`)
	pincodePattern = regexp.MustCompile(`^[0-9]{6}$`)
)

// Value checks one non-empty value against rule. Unknown rules pass.
func Value(rule, value string) error {
	value = strings.TrimSpace(value)
	switch rule {
	case RuleMobile:
		digits := strings.NewReplacer(" ", "", "-", "").Replace(value)
		if !mobilePattern.MatchString(digits) {
			return errors.New("mobile number must be exactly 10 digits")
		}
	case RuleEmail:
		addr, err := mail.ParseAddress(value)
		if err != nil || addr.Address != value {
			return errors.New("enter a valid email address")
		}
	case RuleDate:
		if _, err := time.Parse("2006-01-02", value); err != nil {
			return errors.New("date must be YYYY-MM-DD")
		}
	case RuleYouTube:
		if _, ok := youtube.ExtractID(value); !ok {
			return errors.New("not a recognizable YouTube link")
		}
	case RulePincode:
		if !pincodePattern.MatchString(value) {
			return errors.New("pincode must be 6 digits")
		}
	}
	return nil
}

// Field is the subset of a form field definition validation needs.
type Field struct {
	Name     string
	Required bool
	Rule     string
}

// Form validates values against fields and returns *Error listing every
// failure, or nil.
func Form(fields []Field, values map[string]string) error {
	var out []FieldError
	for _, f := range fields {
		v := strings.TrimSpace(values[f.Name])
		if v == "" {
			if f.Required {
				out = append(out, FieldError{Field: f.Name, Message: "is required"})
			}
			continue
		}
		if err := Value(f.Rule, v); err != nil {
			out = append(out, FieldError{Field: f.Name, Message: err.Error()})
		}
	}
	if len(out) == 0 {
		return nil
	}
	return &Error{Fields: out}
}
