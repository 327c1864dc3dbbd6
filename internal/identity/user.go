// Package identity carries the authenticated portal user. Authentication
// itself happens upstream; this package only transports the result.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// User is the acting identity for a request.
type User struct {
	ID                    int    `json:"id"`
	FirstName             string `json:"firstName"`
	LastName              string `json:"lastName"`
	Email                 string `json:"email"`
	IsDataSubmissionAdmin bool   `json:"isDataSubmissionAdmin"`
}

// Map renders u as the "user" section of a resolver request.
func (u User) Map() map[string]any {
	return map[string]any{
		"id":                    u.ID,
		"firstName":             u.FirstName,
		"lastName":              u.LastName,
		"email":                 u.Email,
		"isDataSubmissionAdmin": u.IsDataSubmissionAdmin,
	}
}

// CanManage reports whether u may act on a resource owned by ownerID.
func (u User) CanManage(ownerID int) bool {
	return u.IsDataSubmissionAdmin || (u.ID != 0 && u.ID == ownerID)
}

type key struct{}

// WithUser returns a context carrying u.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, key{}, u)
}

// FromContext returns the user stored in ctx.
func FromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(key{}).(User)
	return u, ok
}

// ErrAnonymous reports a request without an identity.
var ErrAnonymous = errors.New("identity: no authenticated user")

// HeaderUser is the header a trusted proxy uses to forward the user.
const HeaderUser = "X-Portal-User"

// FromHeader decodes the JSON user forwarded by a trusted proxy.
func FromHeader(r *http.Request) (User, error) {
	raw := strings.TrimSpace(r.Header.Get(HeaderUser))
	if raw == "" {
		return User{}, ErrAnonymous
	}
	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return User{}, err
	}
	if u.ID == 0 {
		return User{}, ErrAnonymous
	}
	return u, nil
}
