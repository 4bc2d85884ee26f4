// internal/security/token.go

// Package security issues and checks the ingest tokens accepted by POST /emit.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMalformedToken is returned for tokens not of the form expiresAt:signature.
	ErrMalformedToken = errors.New("malformed token")
	// ErrTokenExpired is returned once the expiry embedded in a token has passed.
	ErrTokenExpired = errors.New("token has expired")
	// ErrBadSignature is returned when the signature does not match the source.
	ErrBadSignature = errors.New("token signature mismatch")
)

var timeNow = time.Now

// GenerateToken creates a token that lets source emit records until the
// token expires. The token is "<unix expiry>:<hex HMAC-SHA256>".
func GenerateToken(secret, source string, lifetime time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("secret cannot be empty")
	}
	if lifetime <= 0 {
		return "", errors.New("token lifetime must be positive")
	}
	expiresAt := timeNow().Add(lifetime).Unix()
	return strconv.FormatInt(expiresAt, 10) + ":" + sign(secret, source, expiresAt), nil
}

// ValidateToken checks that token was issued for source with secret and
// has not expired.
func ValidateToken(secret, source, token string) error {
	if secret == "" {
		return errors.New("secret cannot be empty")
	}
	expiresStr, signature, ok := strings.Cut(token, ":")
	if !ok || signature == "" {
		return ErrMalformedToken
	}
	expiresAt, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if expiry := time.Unix(expiresAt, 0); timeNow().After(expiry) {
		return fmt.Errorf("%w (expired at %s)", ErrTokenExpired, expiry.UTC().Format(time.RFC3339))
	}
	if !hmac.Equal([]byte(signature), []byte(sign(secret, source, expiresAt))) {
		return ErrBadSignature
	}
	return nil
}

// The expiry is part of the signed message so it cannot be extended.
func sign(secret, source string, expiresAt int64) string {
	h := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(h, "%s:%d", source, expiresAt)
	return hex.EncodeToString(h.Sum(nil))
}
