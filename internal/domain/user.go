package domain

import (
	"strings"
	"time"
)

// UserRole distinguishes lab technicians from administrators.
type UserRole string

const (
	UserRoleTechnician UserRole = "technician"
	UserRoleAdmin      UserRole = "admin"
)

// User is an entry of the user directory. Accounts are managed elsewhere.
type User struct {
	ID           int64
	Username     string
	FirstName    string
	LastName     string
	PasswordHash string
	Role         UserRole
	CreatedAt    time.Time
}

// FullName renders the display name used in reports.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
