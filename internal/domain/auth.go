package domain

import "time"

// AccessToken is a signed bearer token issued at login.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
	User      User
}
