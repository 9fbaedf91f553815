package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/savepop/savepop/internal/errors"
)

type ctxKey int

const (
	ctxUserKey ctxKey = iota
	ctxRecorderKey
)

// Claims is the bearer token payload. Only user_id is required.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

func withUserID(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxUserKey, userID)
}

func withRecorder(ctx context.Context, rec *responseRecorder) context.Context {
	return context.WithValue(ctx, ctxRecorderKey, rec)
}

// noteUser lets the access log see who made the request.
func noteUser(ctx context.Context, userID string) {
	if rec, ok := ctx.Value(ctxRecorderKey).(*responseRecorder); ok {
		rec.userID = userID
	}
}

// UserID returns the authenticated caller, or "" when none is attached.
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(ctxUserKey).(string)
	return v
}

// authenticator resolves the caller of a request. With a secret it verifies
// HS256 bearer tokens; without one it trusts the X-User-ID header.
type authenticator struct {
	secret []byte
}

func (a authenticator) devMode() bool {
	return len(a.secret) == 0
}

func (a authenticator) identify(r *http.Request) (string, error) {
	if a.devMode() {
		id := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if id == "" {
			id = strings.TrimSpace(r.URL.Query().Get("user_id"))
		}
		if id == "" {
			return "", errors.Unauthenticated("missing X-User-ID header")
		}
		return id, nil
	}

	token := bearerToken(r)
	if token == "" {
		return "", errors.Unauthenticated("missing bearer token")
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return "", errors.Unauthenticated("invalid bearer token")
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return "", errors.Unauthenticated("token carries no user_id")
	}
	return claims.UserID, nil
}

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter that browsers use for websocket upgrades.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

// IssueToken signs an HS256 token for userID. Used by tooling and tests.
func IssueToken(secret, userID string, claims jwt.RegisteredClaims) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("jwt secret required")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: userID, RegisteredClaims: claims})
	return token.SignedString([]byte(secret))
}
