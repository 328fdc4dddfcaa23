package handlers

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// BasicAuth guards a handler with HTTP basic auth against a bcrypt password
// hash.
type BasicAuth struct {
	next         http.Handler
	user         string
	passwordHash []byte
}

// NewBasicAuth wraps next so only user with the password matching
// passwordHash reaches it.
func NewBasicAuth(next http.Handler, user, passwordHash string) *BasicAuth {
	return &BasicAuth{
		next:         next,
		user:         user,
		passwordHash: []byte(passwordHash),
	}
}

// ServeHTTP implements http.Handler.
func (h *BasicAuth) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, password, ok := r.BasicAuth()
	if !ok ||
		subtle.ConstantTimeCompare([]byte(user), []byte(h.user)) != 1 ||
		bcrypt.CompareHashAndPassword(h.passwordHash, []byte(password)) != nil {
		w.Header().Set("WWW-Authenticate", `Basic realm="engine"`)
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.next.ServeHTTP(w, r)
}
