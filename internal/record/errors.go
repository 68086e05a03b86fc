package record

import "errors"

var (
	// ErrMalformed indicates bytes or identifiers that do not decode
	ErrMalformed = errors.New("malformed record")

	// ErrRecordTooLarge indicates an encoded record exceeding size limits
	ErrRecordTooLarge = errors.New("record too large")

	// ErrInvalidPackageID indicates a package identifier failing syntactic rules
	ErrInvalidPackageID = errors.New("invalid package identifier")

	// ErrInvalidPermission indicates an unknown permission tag
	ErrInvalidPermission = errors.New("invalid permission")

	// ErrInvalidEntryType indicates an unknown record entry type
	ErrInvalidEntryType = errors.New("invalid entry type")
)
