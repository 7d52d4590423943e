// Package domain holds identifier primitives shared across bounded contexts.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "trackgate/pkg/domain-errors"
)

// ClientID identifies a tracking client. It is generated once and never reused.
type ClientID string

// NewClientID generates a random client identifier.
func NewClientID() ClientID {
	return ClientID(uuid.NewString())
}

// ParseClientID validates an externally supplied client identifier.
// The canonical form is a lowercase, non-nil UUID.
func ParseClientID(s string) (ClientID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "client_id is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, "client_id is malformed")
	}
	if u == uuid.Nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, "client_id is malformed")
	}
	return ClientID(u.String()), nil
}

func (id ClientID) String() string { return string(id) }

// IsZero reports whether the id is unset.
func (id ClientID) IsZero() bool { return id == "" }
