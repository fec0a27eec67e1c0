package domain

// UserRequest is the inbound payload for creating a user.
type UserRequest struct {
	Username  string `json:"username" validate:"required,min=2,max=30"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=4"`
	FirstName string `json:"firstName" validate:"required,min=2,max=30"`
	LastName  string `json:"lastName" validate:"required,min=2,max=30"`
}

// UserResponse is the profile assembled from the identity provider.
// Roles and Groups hold unique names; their order carries no meaning.
type UserResponse struct {
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Email     string   `json:"email"`
	Roles     []string `json:"roles"`
	Groups    []string `json:"groups"`
}

// RemoteUser mirrors the identity provider's user representation.
type RemoteUser struct {
	ID          string       `json:"id,omitempty"`
	Username    string       `json:"username"`
	Email       string       `json:"email,omitempty"`
	FirstName   string       `json:"firstName,omitempty"`
	LastName    string       `json:"lastName,omitempty"`
	Enabled     bool         `json:"enabled"`
	Credentials []Credential `json:"credentials,omitempty"`
}

// Credential is an initial credential attached to a new remote user.
type Credential struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

// CredentialPassword is the provider's credential type for passwords.
const CredentialPassword = "password"

// RoleMapping is a realm-level role assigned to a user.
type RoleMapping struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// GroupMembership is a group a user belongs to.
type GroupMembership struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

// Principal is the authenticated caller of the HTTP API.
type Principal struct {
	Subject  string
	Username string
	Roles    []string
}

// HasRole reports whether the principal holds role.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
