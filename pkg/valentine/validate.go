package valentine

import (
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/smith3v/valentine-bot/pkg/apperr"
)

var (
	ErrEmptyMessage      = apperr.Validation("the valentine is empty")
	ErrMessageTooLong    = apperr.Validation("the valentine is too long")
	ErrSelfAddressed     = apperr.Validation("you cannot send a valentine to yourself")
	ErrMalformedUsername = apperr.Validation("that does not look like a Telegram username")
	ErrPastSchedule      = apperr.Validation("the delivery time must be in the future")
	ErrUnknownGift       = apperr.Validation("unknown gift")
	ErrNotFound          = apperr.NotFound("valentine not found")
	ErrNotReceiver       = apperr.Precondition("this valentine is addressed to someone else")
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{5,32}$`)

// ValidateMessage trims text and checks it against the length cap, counted in
// characters rather than bytes.
func ValidateMessage(text string, maxLen int) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	if maxLen > 0 && utf8.RuneCountInString(text) > maxLen {
		return "", ErrMessageTooLong
	}
	return text, nil
}

// NormalizeUsername strips a leading "@" and lowercases a valid username.
func NormalizeUsername(raw string) (string, error) {
	name := strings.TrimPrefix(strings.TrimSpace(raw), "@")
	if !usernamePattern.MatchString(name) {
		return "", ErrMalformedUsername
	}
	return strings.ToLower(name), nil
}

func ValidateGift(emoji string, allowed []string) error {
	if !slices.Contains(allowed, emoji) {
		return ErrUnknownGift
	}
	return nil
}
