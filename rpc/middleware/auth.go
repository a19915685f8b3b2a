package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"p2plend/observability/logging"
)

// AuthConfig configures operator bearer-token verification.
type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	Audience   string
	ScopeClaim string
	ClockSkew  time.Duration
}

type contextKey string

const (
	ContextKeySubject contextKey = "rpc.subject"
	ContextKeyScopes  contextKey = "rpc.scopes"
)

var (
	ErrMissingToken      = errors.New("auth: missing bearer token")
	ErrInvalidToken      = errors.New("auth: invalid token")
	ErrInsufficientScope = errors.New("auth: insufficient scope")
	ErrAuthDisabled      = errors.New("auth: operator authentication not configured")
)

// Authenticator validates HMAC-signed JWT bearer tokens.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "auth")),
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
	}
}

// Enabled reports whether tokens are checked at all.
func (a *Authenticator) Enabled() bool { return a != nil && a.cfg.Enabled }

// Authorize checks the Authorization header of r and returns a context
// carrying the token subject and scopes.
func (a *Authenticator) Authorize(r *http.Request, requiredScopes ...string) (context.Context, error) {
	subject, scopes, err := a.VerifyToken(ExtractBearer(r.Header.Get("Authorization")), requiredScopes...)
	if err != nil {
		return nil, err
	}
	ctx := context.WithValue(r.Context(), ContextKeySubject, subject)
	ctx = context.WithValue(ctx, ContextKeyScopes, scopes)
	return ctx, nil
}

// VerifyToken validates a raw bearer token independently of the transport.
func (a *Authenticator) VerifyToken(tokenString string, requiredScopes ...string) (string, []string, error) {
	if !a.Enabled() {
		return "", nil, ErrAuthDisabled
	}
	if tokenString == "" {
		return "", nil, ErrMissingToken
	}
	claims, err := a.parseToken(tokenString)
	if err != nil {
		a.logger.Debug("token validation failed",
			slog.String("error", err.Error()),
			logging.MaskField("token", tokenString))
		return "", nil, ErrInvalidToken
	}
	if err := validateClaims(claims, a.cfg.Issuer, a.cfg.Audience); err != nil {
		a.logger.Debug("claim validation failed", slog.String("error", err.Error()))
		return "", nil, ErrInvalidToken
	}
	scopes := extractScopes(claims, a.cfg.ScopeClaim)
	if !hasScopes(scopes, requiredScopes) {
		return "", nil, ErrInsufficientScope
	}
	subject, _ := claims.GetSubject()
	return subject, scopes, nil
}

// Middleware rejects requests without a valid token carrying requiredScopes.
func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, err := a.Authorize(r, requiredScopes...)
			switch {
			case err == nil:
				next.ServeHTTP(w, r.WithContext(ctx))
			case errors.Is(err, ErrInsufficientScope):
				http.Error(w, "insufficient scope", http.StatusForbidden)
			default:
				http.Error(w, "invalid token", http.StatusUnauthorized)
			}
		})
	}
}

// IssueToken signs a token for subject with the configured secret. Operator
// tooling uses it to mint short-lived credentials.
func (a *Authenticator) IssueToken(subject string, scopes []string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("auth secret not configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	claims[a.cfg.ScopeClaim] = strings.Join(scopes, " ")
	if a.cfg.Issuer != "" {
		claims["iss"] = a.cfg.Issuer
	}
	if a.cfg.Audience != "" {
		claims["aud"] = a.cfg.Audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("auth secret not configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.cfg.ClockSkew))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func validateClaims(claims jwt.MapClaims, issuer, audience string) error {
	if issuer != "" {
		if value, ok := claims["iss"].(string); !ok || value != issuer {
			return errors.New("issuer mismatch")
		}
	}
	if audience != "" {
		switch val := claims["aud"].(type) {
		case string:
			if val != audience {
				return errors.New("audience mismatch")
			}
		case []interface{}:
			matched := false
			for _, entry := range val {
				if s, ok := entry.(string); ok && s == audience {
					matched = true
					break
				}
			}
			if !matched {
				return errors.New("audience mismatch")
			}
		default:
			return errors.New("audience missing")
		}
	}
	return nil
}

func extractScopes(claims jwt.MapClaims, scopeClaim string) []string {
	raw, ok := claims[scopeClaim]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func hasScopes(scopes []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		set[scope] = struct{}{}
	}
	for _, req := range required {
		if _, ok := set[req]; !ok {
			return false
		}
	}
	return true
}

// ExtractBearer returns the token of a "Bearer <token>" header value.
func ExtractBearer(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
