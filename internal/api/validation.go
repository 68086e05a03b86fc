package api

import (
	"github.com/go-playground/validator/v10"

	"github.com/ClearlogHQ/clearlog/internal/hash"
	"github.com/ClearlogHQ/clearlog/internal/record"
)

// Validator instance for request types
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Register custom validators for domain formats
	validate.RegisterValidation("digest", validateDigest)
	validate.RegisterValidation("packageid", validatePackageID)
}

// validateDigest validates the "<algo>:<hex>" digest form
func validateDigest(fl validator.FieldLevel) bool {
	_, err := hash.ParseDigest(fl.Field().String())
	return err == nil
}

// validatePackageID validates the "<namespace>:<name>" kebab-case form
func validatePackageID(fl validator.FieldLevel) bool {
	_, err := record.ParsePackageID(fl.Field().String())
	return err == nil
}

// ValidateRequest validates a request type using struct tags.
func ValidateRequest(req interface{}) error {
	return validate.Struct(req)
}
