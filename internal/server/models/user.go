// Package models defines server-side data models persisted in the database.
package models

// User is a read-only row of the firm's user directory.
type User struct {
	ID         string
	Email      string
	FirstName  string
	LastName   string
	MiddleName string
}
