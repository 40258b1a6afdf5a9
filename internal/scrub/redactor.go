// Package scrub removes a leaked secret from every blob in a git
// repository's history. Redactor decides what a blob becomes; Rewriter walks
// the object graph and writes the rewritten history back.
package scrub

import (
	"bytes"
	"errors"
	"unicode/utf8"
)

// ErrEmptySecret is returned when no secret literal is configured.
var ErrEmptySecret = errors.New("secret literal must not be empty")

// Outcome reports what a BlobFunc did with a blob.
type Outcome int

const (
	OutcomeClean Outcome = iota
	OutcomeBinary
	OutcomeRedacted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeClean:
		return "clean"
	case OutcomeBinary:
		return "binary"
	case OutcomeRedacted:
		return "redacted"
	default:
		return "unknown"
	}
}

// BlobFunc maps old blob content to new content. Content is only replaced
// when the outcome is OutcomeRedacted.
type BlobFunc func(data []byte) ([]byte, Outcome)

type Redactor struct {
	secret      []byte
	placeholder []byte
}

func NewRedactor(secret, placeholder string) (*Redactor, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Redactor{secret: []byte(secret), placeholder: []byte(placeholder)}, nil
}

// Transform replaces every occurrence of the secret in UTF-8 text. Content
// that is not valid UTF-8 is treated as binary and left alone.
func (r *Redactor) Transform(data []byte) ([]byte, Outcome) {
	if !utf8.Valid(data) {
		return data, OutcomeBinary
	}
	if !bytes.Contains(data, r.secret) {
		return data, OutcomeClean
	}
	return bytes.ReplaceAll(data, r.secret, r.placeholder), OutcomeRedacted
}
