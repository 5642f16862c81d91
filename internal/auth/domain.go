package auth

// User represents an admin account as stored in the users table.
// Optional columns stay at their zero value when the table lacks them.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	RoleID       *int64
	Locale       string
	IsActive     bool
}

// DisplayName falls back to the email when no name is stored.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}
