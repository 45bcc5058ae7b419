package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/arcten/shellgate/internal/access"
	"github.com/arcten/shellgate/internal/auth"
	"github.com/arcten/shellgate/internal/database"
)

type contextKey string

const userContextKey contextKey = "user"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RequireAuth rejects requests without a valid login session cookie and
// attaches the authenticated user to the request context.
func RequireAuth(store *auth.SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := Authenticate(store, r)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication required"})
				return
			}
			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authenticate resolves the login cookie on r to a user. It is used both
// by RequireAuth and by the WebSocket attach path, which must re-verify
// the caller on its own connection instead of trusting a session id.
func Authenticate(store *auth.SessionStore, r *http.Request) (*database.User, error) {
	cookie, err := r.Cookie(auth.SessionCookie)
	if err != nil {
		return nil, err
	}
	userID, ok := store.Get(cookie.Value)
	if !ok {
		return nil, http.ErrNoCookie
	}
	return database.GetUserByID(userID)
}

func GetUser(r *http.Request) *database.User {
	user, _ := r.Context().Value(userContextKey).(*database.User)
	return user
}

// CallerIdentity returns the access identity of the authenticated user,
// or false if the request carries no user.
func CallerIdentity(r *http.Request) (access.Identity, bool) {
	user := GetUser(r)
	if user == nil {
		return access.Identity{}, false
	}
	return access.Identity{UserID: user.ID, OrgID: user.OrganizationID}, true
}

// WithUserForTest attaches a User to the request context for testing.
func WithUserForTest(r *http.Request, user *database.User) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), userContextKey, user))
}
