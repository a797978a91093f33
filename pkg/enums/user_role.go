package enums

// UserRole is the role column on users.
type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
)

func (r UserRole) IsAdmin() bool {
	return r == UserRoleAdmin
}
