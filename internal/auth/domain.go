package auth

import (
	"errors"
	"fmt"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/httpx"
)

// ErrInvalidCredentials indicates a malformed, unknown or mismatched API token.
var ErrInvalidCredentials = fmt.Errorf("auth: invalid token: %w", httpx.ErrUnauthorized)

// ErrUnknownSubject indicates that no token is configured for the subject.
var ErrUnknownSubject = errors.New("auth: unknown subject")

// Token is the stored form of an API token: the subject it authenticates and the bcrypt
// hash of its secret.
type Token struct {
	Subject string
	Hash    []byte
}
