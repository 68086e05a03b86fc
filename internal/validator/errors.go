package validator

import (
	"errors"
	"fmt"

	"github.com/ClearlogHQ/clearlog/internal/hash"
	"github.com/ClearlogHQ/clearlog/internal/record"
	"github.com/ClearlogHQ/clearlog/internal/signing"
)

// ErrorCode identifies a validation failure. The set is closed; adding a
// variant requires a protocol version bump.
type ErrorCode string

const (
	CodeFirstEntryIsNotInit        ErrorCode = "FirstEntryIsNotInit"
	CodeInitialRecordDoesNotInit   ErrorCode = "InitialRecordDoesNotInit"
	CodeInitialEntryAfterBeginning ErrorCode = "InitialEntryAfterBeginning"
	CodeKeyIDNotRecognized         ErrorCode = "KeyIDNotRecognized"
	CodeUnauthorizedAction         ErrorCode = "UnauthorizedAction"
	CodePermissionNotFoundToRevoke ErrorCode = "PermissionNotFoundToRevoke"
	CodeReleaseOfReleased          ErrorCode = "ReleaseOfReleased"
	CodeYankOfUnreleased           ErrorCode = "YankOfUnreleased"
	CodeYankOfYanked               ErrorCode = "YankOfYanked"
	CodeBadSignature               ErrorCode = "BadSignature"
	CodeIncorrectHashAlgorithm     ErrorCode = "IncorrectHashAlgorithm"
	CodeRecordHashDoesNotMatch     ErrorCode = "RecordHashDoesNotMatch"
	CodePreviousHashOnFirstRecord  ErrorCode = "PreviousHashOnFirstRecord"
	CodeNoPreviousHashAfterInit    ErrorCode = "NoPreviousHashAfterInit"
	CodeProtocolVersionNotAllowed  ErrorCode = "ProtocolVersionNotAllowed"
	CodeTimestampLowerThanPrevious ErrorCode = "TimestampLowerThanPrevious"
)

// ValidationError describes why a record was rejected.
// Only the fields relevant to the code are populated.
type ValidationError struct {
	Code ErrorCode

	// Key involved in the failure, for key and permission errors
	KeyID signing.KeyID

	// Permission involved, for permission errors
	Permission record.Permission

	// Release version involved, for release lifecycle errors
	Version string

	// Hash algorithms involved, for chain algorithm mismatches
	Found    hash.Algorithm
	Expected hash.Algorithm

	// Protocol version, for version errors
	ProtocolVersion uint32
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	switch e.Code {
	case CodeFirstEntryIsNotInit:
		return "the first entry of the log is not \"init\""
	case CodeInitialRecordDoesNotInit:
		return "the initial record is empty and does not \"init\""
	case CodeInitialEntryAfterBeginning:
		return "a second \"init\" entry was found"
	case CodeKeyIDNotRecognized:
		return fmt.Sprintf("the key ID %q used to sign this envelope is not known to this log", e.KeyID)
	case CodeUnauthorizedAction:
		return fmt.Sprintf("the key with ID %q did not have required permission %q", e.KeyID, e.Permission)
	case CodePermissionNotFoundToRevoke:
		return fmt.Sprintf("attempted to remove permission %q from key %q which did not have it", e.Permission, e.KeyID)
	case CodeReleaseOfReleased:
		return fmt.Sprintf("an entry attempted to release version %q which is already released", e.Version)
	case CodeYankOfUnreleased:
		return fmt.Sprintf("an entry attempted to yank version %q which had not yet been released", e.Version)
	case CodeYankOfYanked:
		return fmt.Sprintf("an entry attempted to yank version %q which is already yanked", e.Version)
	case CodeBadSignature:
		return "unable to verify signature"
	case CodeIncorrectHashAlgorithm:
		return fmt.Sprintf("record hash uses %q algorithm but %q was expected", e.Found, e.Expected)
	case CodeRecordHashDoesNotMatch:
		return "previous record hash does not match"
	case CodePreviousHashOnFirstRecord:
		return "the first record contained a previous hash value"
	case CodeNoPreviousHashAfterInit:
		return "non-initial record contained no previous hash"
	case CodeProtocolVersionNotAllowed:
		return fmt.Sprintf("protocol version %d not allowed", e.ProtocolVersion)
	case CodeTimestampLowerThanPrevious:
		return "record has lower timestamp than previous"
	default:
		return fmt.Sprintf("validation failed: %s", e.Code)
	}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
