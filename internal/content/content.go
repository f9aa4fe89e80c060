package content

import (
	"bytes"
	"errors"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	policy = bluemonday.UGCPolicy()

	md = goldmark.New(
		goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
	)
)

// Sanitize removes unsafe HTML from the input string using a strict policy.
// It is used for sanitizing user inputs like display names and message text.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Render converts message text from markdown to HTML and sanitizes the
// result. On a render error it falls back to the sanitized plain text.
func Render(text string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return Sanitize(text)
	}
	return policy.Sanitize(buf.String())
}

// ValidateID checks that a user identity is a well-formed UUID.
func ValidateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}
	if err := uuid.Validate(id); err != nil {
		return errors.New("id is not a valid uuid")
	}
	return nil
}
