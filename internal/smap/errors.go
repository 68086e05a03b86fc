package smap

import "errors"

var (
	// ErrNotMembershipProof indicates evaluating a non-membership proof as membership
	ErrNotMembershipProof = errors.New("proof does not demonstrate membership")

	// ErrNotAbsenceProof indicates evaluating a membership proof as non-membership
	ErrNotAbsenceProof = errors.New("proof does not demonstrate absence")

	// ErrMalformedProof indicates proof bytes or structure that do not decode
	ErrMalformedProof = errors.New("malformed map proof")
)
