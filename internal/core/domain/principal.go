package domain

type Role string

const (
	RoleAdmin Role = "admin"
	RoleVoter Role = "voter"
)

// Principal is the authenticated caller extracted from an access token.
type Principal struct {
	Subject string
	Role    Role
}
