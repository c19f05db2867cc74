package validator

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxMessageLength = 5000
	MaxNameLength    = 100
	MaxParticipants  = 256
)

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

func ValidateConversation(convType string, participantCount int, name *string) ValidationErrors {
	errs := make(ValidationErrors)

	if convType != "PRIVATE" && convType != "GROUP" {
		errs.Add("type", "Conversation type must be PRIVATE or GROUP")
	}

	if participantCount == 0 {
		errs.Add("participantIds", "At least one participant is required")
	} else if participantCount > MaxParticipants {
		errs.Add("participantIds", fmt.Sprintf("A conversation can have at most %d participants", MaxParticipants))
	}

	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if trimmed == "" {
			errs.Add("name", "Name cannot be blank")
		} else if utf8.RuneCountInString(trimmed) > MaxNameLength {
			errs.Add("name", "Name is too long")
		}
	}

	return errs
}

func ValidateParticipants(participantCount int) ValidationErrors {
	errs := make(ValidationErrors)
	if participantCount == 0 {
		errs.Add("participantIds", "At least one participant is required")
	} else if participantCount > MaxParticipants {
		errs.Add("participantIds", fmt.Sprintf("A conversation can have at most %d participants", MaxParticipants))
	}
	return errs
}

// ValidateMessage checks message text. Length counts characters, not bytes.
func ValidateMessage(text string) ValidationErrors {
	errs := make(ValidationErrors)

	if !utf8.ValidString(text) {
		errs.Add("message", "Message must be valid UTF-8 text")
		return errs
	}

	n := utf8.RuneCountInString(text)
	if n == 0 {
		errs.Add("message", "Message is required")
	} else if n > MaxMessageLength {
		errs.Add("message", fmt.Sprintf("Message must be at most %d characters", MaxMessageLength))
	}

	return errs
}
