package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"traderchain/crypto"
)

// Scopes granted to fund API callers.
const (
	ScopeInvest = "fund:invest"
	ScopeTrade  = "fund:trade"
	ScopeAdmin  = "admin"
)

type AuthConfig struct {
	Enabled       bool
	HMACSecret    string
	Issuer        string
	Audience      string
	ScopeClaim    string
	OptionalPaths []string
	ClockSkew     time.Duration
}

type contextKey string

const (
	ContextKeyToken   contextKey = "fundd.token"
	ContextKeySubject contextKey = "fundd.subject"
)

var (
	ErrMissingSubject = errors.New("auth: token subject missing")
	errNoSecret       = errors.New("auth secret not configured")
)

// Authenticator validates HMAC-signed bearer tokens. The token subject is the
// caller's account address.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
	now    func() time.Time
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
		logger: logger,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		now:    time.Now,
	}
}

// Middleware rejects requests without a valid token carrying every required
// scope. Tokens holding the admin scope satisfy any requirement.
func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled || a.isOptional(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims, err := a.parseToken(tokenString)
			if err != nil {
				a.logger.Warn("token validation failed", "error", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			subject, err := subjectAddress(claims)
			if err != nil {
				a.logger.Warn("token subject rejected", "error", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			scopes := extractScopes(claims, a.cfg.ScopeClaim)
			if len(requiredScopes) > 0 && !hasScopes(scopes, requiredScopes) {
				http.Error(w, "insufficient scope", http.StatusForbidden)
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyToken, tokenString)
			ctx = context.WithValue(ctx, ContextKeySubject, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IssueToken signs a token for subject with the configured secret.
func (a *Authenticator) IssueToken(subject crypto.Address, ttl time.Duration, scopes ...string) (string, error) {
	return IssueToken(a.cfg, subject, a.now(), ttl, scopes...)
}

// IssueToken signs an HS256 token for subject. It is used by operators and
// tests to mint credentials without running the service.
func IssueToken(cfg AuthConfig, subject crypto.Address, now time.Time, ttl time.Duration, scopes ...string) (string, error) {
	secret := strings.TrimSpace(cfg.HMACSecret)
	if secret == "" {
		return "", errNoSecret
	}
	if subject.IsZero() {
		return "", ErrMissingSubject
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	claim := cfg.ScopeClaim
	if claim == "" {
		claim = "scope"
	}
	claims := jwt.MapClaims{
		"sub": subject.String(),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		claim: strings.Join(scopes, " "),
	}
	if cfg.Issuer != "" {
		claims["iss"] = cfg.Issuer
	}
	if cfg.Audience != "" {
		claims["aud"] = cfg.Audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Subject returns the authenticated caller address stored on ctx.
func Subject(ctx context.Context) (crypto.Address, bool) {
	addr, ok := ctx.Value(ContextKeySubject).(crypto.Address)
	return addr, ok
}

func (a *Authenticator) isOptional(path string) bool {
	for _, prefix := range a.cfg.OptionalPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errNoSecret
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, opts...)
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

func subjectAddress(claims jwt.MapClaims) (crypto.Address, error) {
	sub, err := claims.GetSubject()
	if err != nil {
		return crypto.Address{}, err
	}
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return crypto.Address{}, ErrMissingSubject
	}
	return crypto.DecodeAddress(sub)
}

func extractScopes(claims jwt.MapClaims, scopeClaim string) []string {
	if scopeClaim == "" {
		scopeClaim = "scope"
	}
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
	if _, ok := set[ScopeAdmin]; ok {
		return true
	}
	for _, req := range required {
		if _, ok := set[req]; !ok {
			return false
		}
	}
	return true
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
