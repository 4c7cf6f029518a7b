package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound       = errors.New("not found")
	ErrStatusConflict = errors.New("proposal status conflict")

	// ErrOpenProposalExists is returned when creating a pending proposal
	// for a user who already has one open.
	ErrOpenProposalExists = errors.New("open proposal already exists")
)
