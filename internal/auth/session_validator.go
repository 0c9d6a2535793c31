package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultSessionIssuer = "streetteam-identity"
	defaultSessionCookie = "streetteam_session"
	bearerPrefix         = "Bearer "
)

var (
	ErrMissingSessionToken = errors.New("session: token required")
	ErrInvalidSessionToken = errors.New("session: invalid token")
	ErrExpiredSessionToken = errors.New("session: token expired")

	errMissingSessionSecret = errors.New("session: signing secret required")
)

// SessionValidatorConfig configures SessionValidator. Blank Issuer and CookieName
// use the identity service defaults.
type SessionValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	Clock         func() time.Time
}

// SessionValidator accepts HS256 session tokens from the Authorization header or
// the session cookie.
type SessionValidator struct {
	secret     []byte
	issuer     string
	cookieName string
	parser     *jwt.Parser
}

func NewSessionValidator(cfg SessionValidatorConfig) (*SessionValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSessionSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultSessionIssuer
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		cookieName = defaultSessionCookie
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionValidator{
		secret:     append([]byte(nil), cfg.SigningSecret...),
		issuer:     issuer,
		cookieName: cookieName,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(clock),
		),
	}, nil
}

// Issuer is the issuer tokens must carry; TokenIssuer signs with the same value.
func (v *SessionValidator) Issuer() string {
	return v.issuer
}

// ValidateToken parses a session token. Tokens without an agent id are invalid.
func (v *SessionValidator) ValidateToken(raw string) (SessionClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}
	var claims SessionClaims
	_, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return SessionClaims{}, ErrExpiredSessionToken
	case err != nil:
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if strings.TrimSpace(claims.UserID) == "" || claims.Subject != claims.UserID {
		return SessionClaims{}, fmt.Errorf("%w: subject does not name the agent", ErrInvalidSessionToken)
	}
	return claims, nil
}

// ValidateRequest prefers the bearer token over the session cookie.
func (v *SessionValidator) ValidateRequest(r *http.Request) (SessionClaims, error) {
	return v.ValidateToken(v.requestToken(r))
}

func (v *SessionValidator) requestToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, bearerPrefix) {
		return strings.TrimPrefix(header, bearerPrefix)
	}
	if cookie, err := r.Cookie(v.cookieName); err == nil {
		return cookie.Value
	}
	return ""
}
