package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/homiez-cli/internal/domain"
	gojwt "github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenMissing = errors.New("realtime token missing")
	ErrTokenExpired = errors.New("realtime token expired")
)

// TokenSource issues the realtime token for an identity.
type TokenSource interface {
	Token(ctx context.Context, identity domain.Identity) (string, error)
}

type TokenSourceFunc func(ctx context.Context, identity domain.Identity) (string, error)

func (f TokenSourceFunc) Token(ctx context.Context, identity domain.Identity) (string, error) {
	return f(ctx, identity)
}

// CheckToken rejects empty tokens and JWTs whose exp is in the past. Tokens
// that are not JWTs are passed through; the transport has the final word.
// The signature is not verified here.
func CheckToken(token string, now time.Time) error {
	if strings.TrimSpace(token) == "" {
		return ErrTokenMissing
	}

	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return nil
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil {
		return fmt.Errorf("read token expiry: %w", err)
	}
	if exp != nil && !now.Before(exp.Time) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, exp.Time.UTC().Format(time.RFC3339))
	}
	return nil
}
