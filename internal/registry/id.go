package registry

import (
	"errors"
	"regexp"

	"github.com/goevery/heartbeat/internal/ierr"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const connectionIdLength = 21

var connectionIdRegex = regexp.MustCompile(`^[A-Za-z0-9_=-]{1,128}$`)

// GenerateConnectionId generates a unique connection identifier
func GenerateConnectionId() (string, error) {
	return gonanoid.New(connectionIdLength)
}

// ValidateConnectionId rejects identifiers that cannot have been issued by a
// gateway, before they reach a store or a URL path.
func ValidateConnectionId(connectionId string) error {
	if !connectionIdRegex.MatchString(connectionId) {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid connectionId"))
	}

	return nil
}
