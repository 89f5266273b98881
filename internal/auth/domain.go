package auth

import "time"

// User is an operator account.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	Role         string
	SiteID       int64
	SiteName     string
	IsActive     bool
	LastLoginAt  time.Time
}
