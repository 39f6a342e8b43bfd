package model

import "time"

// Credential is an account held by the local identity directory.
// Username is the login name, Subject is the stable id put into tokens.
type Credential struct {
	Username     string
	Subject      string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Checkpoint is the persisted progress of a saga run. Completed is the
// number of steps that finished, State is opaque JSON owned by the saga.
type Checkpoint struct {
	ID        string
	Operation string
	Completed int
	State     string
	UpdatedAt time.Time
}
