package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/app"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
)

// Claims are the bearer token claims. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Role domain.Role `json:"role"`
}

// Authenticator validates HS256 bearer tokens issued by the account service.
type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// Issue signs a token for p. It is used by tests and local tooling.
func (a *Authenticator) Issue(p app.Principal, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: p.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Authenticate parses and validates a raw token.
func (a *Authenticator) Authenticate(raw string) (app.Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return app.Principal{}, fmt.Errorf("%w: invalid token", domain.ErrUnauthenticated)
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return app.Principal{}, fmt.Errorf("%w: token is missing subject or role", domain.ErrUnauthenticated)
	}
	return app.Principal{UserID: claims.Subject, Role: claims.Role}, nil
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p app.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFrom(ctx context.Context) app.Principal {
	p, _ := ctx.Value(principalKey{}).(app.Principal)
	return p
}

// Require rejects requests without a valid bearer token.
func (a *Authenticator) Require(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			fail(w, http.StatusUnauthorized, ErrCodeUnauthorized, "missing bearer token")
			return
		}

		p, err := a.Authenticate(strings.TrimSpace(raw))
		if err != nil {
			fail(w, http.StatusUnauthorized, ErrCodeUnauthorized, err.Error())
			return
		}

		next(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

// RequireRole is Require restricted to one role.
func (a *Authenticator) RequireRole(role domain.Role, next http.HandlerFunc) http.Handler {
	return a.Require(func(w http.ResponseWriter, r *http.Request) {
		if principalFrom(r.Context()).Role != role {
			fail(w, http.StatusForbidden, ErrCodeForbidden, "requires role "+string(role))
			return
		}
		next(w, r)
	})
}
