package session

import "strings"

// UserProfile is the backend's user shape, as returned by /auth/me and the
// login/registration endpoints.
type UserProfile struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	Role           string `json:"role"`
	OrganizationID string `json:"organization_id,omitempty"`
}

// Credential is the durable pair identifying a session.
//
// It is either fully present (token and user both set) or fully absent;
// partial states cannot be constructed through this package's API.
type Credential struct {
	Token string      `json:"token"`
	User  UserProfile `json:"user"`
}

// Present reports whether the credential is fully populated.
func (c Credential) Present() bool {
	return strings.TrimSpace(c.Token) != "" && strings.TrimSpace(c.User.ID) != ""
}
