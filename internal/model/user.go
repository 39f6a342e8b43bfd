// Package model defines the data structures used throughout the application.
package model

import "time"

// User is a customer account.
//
// ID is our own xid. Subject is the identifier handed out by the identity
// directory (the "sub" claim of a token); it is bound once, when the
// account is created, and never changes afterwards.
//
// The user's videos, collections and liked videos are not stored on the row.
// Videos are looked up by owner, the two lists live in the memberships table.
type User struct {
	ID           string    `json:"id"`
	Subject      string    `json:"subject"`
	UserName     string    `json:"userName"`
	Email        string    `json:"email"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	PhoneNumber  string    `json:"phoneNumber"`
	ProfilePhoto string    `json:"profilePhoto"` // asset reference, empty when unset
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Profile is the subset of User that the owner may edit.
type Profile struct {
	UserName    string `json:"userName"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	PhoneNumber string `json:"phoneNumber"`
}
