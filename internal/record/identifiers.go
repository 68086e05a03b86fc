package record

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ClearlogHQ/clearlog/internal/hash"
)

// LogID identifies a log: the digest of the log's canonical identifier string.
type LogID = hash.Digest

// RecordID identifies a record: the digest of the record envelope's content bytes.
type RecordID = hash.Digest

// kebabRegex matches the kebab-case restriction on namespace and name.
var kebabRegex = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// operatorLogLabel is the canonical identifier string of the operator log.
// Package identifiers always contain a separator, so it cannot collide.
const operatorLogLabel = "operator"

// PackageID is a parsed package identifier: "<namespace>:<name>",
// both parts kebab-case.
type PackageID struct {
	Namespace string
	Name      string
}

// ParsePackageID parses and validates a package identifier string.
func ParsePackageID(s string) (PackageID, error) {
	namespace, name, found := strings.Cut(s, ":")
	if !found {
		return PackageID{}, fmt.Errorf("%w: missing namespace separator in %q", ErrInvalidPackageID, s)
	}

	if !kebabRegex.MatchString(namespace) {
		return PackageID{}, fmt.Errorf("%w: namespace %q is not kebab-case", ErrInvalidPackageID, namespace)
	}

	if !kebabRegex.MatchString(name) {
		return PackageID{}, fmt.Errorf("%w: name %q is not kebab-case", ErrInvalidPackageID, name)
	}

	return PackageID{Namespace: namespace, Name: name}, nil
}

// String returns the canonical identifier string.
func (id PackageID) String() string {
	return fmt.Sprintf("%s:%s", id.Namespace, id.Name)
}

// LogID returns the stable log identifier for the package.
func (id PackageID) LogID() LogID {
	return hash.New([]byte(id.String()))
}

// OperatorLogID returns the log identifier of the operator log.
func OperatorLogID() LogID {
	return hash.New([]byte(operatorLogLabel))
}
