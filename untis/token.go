package untis

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expiryMargin renews a session shortly before the token itself runs out.
const expiryMargin = 30 * time.Second

var (
	schoolPattern = regexp.MustCompile(`^[a-z-]+$`)
	tokenPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+$`)
)

// ValidateSchool checks that a school name is usable as a subdomain.
func ValidateSchool(school string) error {
	if school == "" {
		return errors.New("school name is empty")
	}
	if !schoolPattern.MatchString(school) {
		return fmt.Errorf("school name %q may only contain a-z and '-'", school)
	}
	return nil
}

// ValidateToken checks that a bearer token has the three-part JWT shape.
func ValidateToken(token string) error {
	if token == "" {
		return errors.New("token is empty")
	}
	if !tokenPattern.MatchString(token) {
		return errors.New("token is not three dot-separated base64url parts")
	}
	return nil
}

// Token is a bearer token together with the times that bound its validity.
type Token struct {
	Value     string
	IssuedAt  time.Time // when we logged in
	ExpiresAt time.Time // from the exp claim; zero when absent
}

// NewToken validates value and reads its exp claim. The signature cannot be
// checked here and is not needed: the claim only schedules renewal.
func NewToken(value string, issuedAt time.Time) (*Token, error) {
	if err := ValidateToken(value); err != nil {
		return nil, err
	}
	t := &Token{Value: value, IssuedAt: issuedAt}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(value, &claims); err == nil && claims.ExpiresAt != nil {
		t.ExpiresAt = claims.ExpiresAt.Time
	}
	return t, nil
}

// Expired reports whether the token must be renewed at now.
func (t *Token) Expired(now time.Time, maxLifetime time.Duration) bool {
	if t == nil {
		return true
	}
	if maxLifetime > 0 && !now.Before(t.IssuedAt.Add(maxLifetime)) {
		return true
	}
	if !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt.Add(-expiryMargin)) {
		return true
	}
	return false
}
