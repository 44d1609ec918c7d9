package service

import (
	"errors"
	"fmt"

	"github.com/Rrens/livedesk/internal/domain"
)

var domainErrors = []error{
	domain.ErrUnauthenticated,
	domain.ErrUnauthorized,
	domain.ErrNotFound,
	domain.ErrInvalidState,
	domain.ErrInvalidTarget,
	domain.ErrInvalidInput,
	domain.ErrConflict,
	domain.ErrTransient,
}

// storeError keeps domain conditions as they are and reports any other store
// failure as transient so callers can retry
func storeError(op string, err error) error {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrTransient, err)
}
