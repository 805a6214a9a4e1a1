package domain

// User is the profile returned by the auth endpoints.
type User struct {
	ID       string `json:"id" yaml:"id"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Email    string `json:"email,omitempty" yaml:"email,omitempty"`
}

// IdentityStatus enumerates the session states.
type IdentityStatus string

const (
	IdentityAnonymous      IdentityStatus = "anonymous"
	IdentityAuthenticating IdentityStatus = "authenticating"
	IdentityAuthenticated  IdentityStatus = "authenticated"
	IdentitySessionError   IdentityStatus = "session_error"
)

// Identity is a point-in-time view of who the device is acting for. Tokens are not part of
// the view; they live in device storage and are only read by the session manager.
type Identity struct {
	Status  IdentityStatus
	User    *User
	Message string
}

// UserID returns the authenticated user's id, or "" for every other status.
func (i Identity) UserID() string {
	if i.Status != IdentityAuthenticated || i.User == nil {
		return ""
	}
	return i.User.ID
}

// IdentityTransition is emitted by the session manager whenever the identity changes.
type IdentityTransition struct {
	From Identity
	To   Identity
}
