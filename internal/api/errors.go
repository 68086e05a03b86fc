package api

import (
	"errors"
	"net/http"

	"github.com/ClearlogHQ/clearlog/internal/hash"
	logpkg "github.com/ClearlogHQ/clearlog/internal/log"
	"github.com/ClearlogHQ/clearlog/internal/record"
	"github.com/ClearlogHQ/clearlog/internal/registry"
	"github.com/ClearlogHQ/clearlog/internal/store"
	"github.com/ClearlogHQ/clearlog/internal/validator"
	"github.com/ClearlogHQ/clearlog/pkg/types"
)

// Error taxonomy codes surfaced to clients.
const (
	CodeMalformed      = "malformed"
	CodeValidation     = "validation"
	CodeBadSignature   = "bad-signature"
	CodeNotFound       = "not-found"
	CodeConflict       = "conflict"
	CodeContentMissing = "content-missing"
	CodeTransient      = "transient"
)

// MapError converts an internal error into the wire error body.
func MapError(err error) *types.ErrorResponse {
	if ve, ok := validator.IsValidation(err); ok {
		code := CodeValidation
		if ve.Code == validator.CodeBadSignature {
			code = CodeBadSignature
		}
		return &types.ErrorResponse{
			Code:    code,
			Message: string(ve.Code),
			Detail:  ve.Error(),
		}
	}

	var rejected *registry.RejectedError
	if errors.As(err, &rejected) {
		return &types.ErrorResponse{
			Code:    CodeValidation,
			Message: "rejected",
			Detail:  rejected.Reason,
		}
	}

	switch {
	case errors.Is(err, record.ErrMalformed),
		errors.Is(err, record.ErrInvalidPackageID),
		errors.Is(err, record.ErrRecordTooLarge),
		errors.Is(err, hash.ErrMalformedDigest),
		errors.Is(err, hash.ErrUnsupportedAlgorithm),
		errors.Is(err, logpkg.ErrMalformedProof),
		errors.Is(err, logpkg.ErrPointsOutOfOrder):
		return &types.ErrorResponse{Code: CodeMalformed, Message: "malformed", Detail: err.Error()}

	case errors.Is(err, registry.ErrLogNotFound),
		errors.Is(err, registry.ErrRecordNotFound),
		errors.Is(err, registry.ErrCheckpointNotFound),
		errors.Is(err, store.ErrNotFound):
		return &types.ErrorResponse{Code: CodeNotFound, Message: "not-found", Detail: err.Error()}

	case errors.Is(err, registry.ErrCheckpointNotMonotonic),
		errors.Is(err, registry.ErrLeafNotCommitted):
		return &types.ErrorResponse{Code: CodeConflict, Message: "conflict", Detail: err.Error()}

	case errors.Is(err, registry.ErrContentMissing):
		return &types.ErrorResponse{Code: CodeContentMissing, Message: "content-missing", Detail: err.Error()}

	default:
		return &types.ErrorResponse{Code: CodeTransient, Message: "internal", Detail: err.Error()}
	}
}

// HTTPStatus maps a taxonomy code to an HTTP status.
func HTTPStatus(code string) int {
	switch code {
	case CodeMalformed:
		return http.StatusBadRequest
	case CodeValidation, CodeBadSignature:
		return http.StatusUnprocessableEntity
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeContentMissing:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}
