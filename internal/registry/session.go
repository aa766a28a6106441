package registry

import (
	"context"
	"net/http"
	"strings"

	"scanasha/internal/did"
	"scanasha/internal/httpx"
)

type sessionKey struct{}

// Session is the authenticated caller of a request.
type Session struct {
	HasSession bool   `json:"hasSession"`
	DID        string `json:"did,omitempty"`
}

// sessionFromHeader reads "Authorization: DID <did>".
func sessionFromHeader(r *http.Request) Session {
	scheme, value, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "DID") {
		return Session{}
	}
	value = strings.TrimSpace(value)
	if !did.IsDID(value) {
		return Session{}
	}
	return Session{HasSession: true, DID: value}
}

func withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), sessionKey{}, sessionFromHeader(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionFrom returns the caller attached by the session middleware.
func SessionFrom(ctx context.Context) Session {
	s, _ := ctx.Value(sessionKey{}).(Session)
	return s
}

// requireSession rejects mutations from anonymous callers.
func requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !SessionFrom(r.Context()).HasSession {
			_ = httpx.WriteJSONError(w, http.StatusUnauthorized, "Please log in first")
			return
		}
		next(w, r)
	}
}
