package models

import "time"

// User is the end user a ticket is submitted on behalf of.
type User struct {
	ID      int64     `json:"id" db:"id"`
	Name    string    `json:"name" db:"name"`
	Email   string    `json:"email" db:"email"`
	OrgID   int64     `json:"org_id,omitempty" db:"org_id"`
	Created time.Time `json:"created" db:"created"`
}

// Organization groups users, resolved from their email domain.
type Organization struct {
	ID      int64    `json:"id" db:"id" mapstructure:"id"`
	Name    string   `json:"name" db:"name" mapstructure:"name"`
	Domains []string `json:"domains,omitempty" db:"-" mapstructure:"domains"`
}
