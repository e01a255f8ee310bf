package storage

import (
	"fmt"

	"github.com/rl1809/resource-allocator/internal/core/domain"
)

var ErrOptimisticLock = fmt.Errorf("%w: optimistic lock conflict", domain.ErrConflict)

func errDuplicateName(name string) error {
	return fmt.Errorf("%w: resource %q already exists", domain.ErrValidation, name)
}

func errResourceNotFound(id string) error {
	return fmt.Errorf("%w: resource %s", domain.ErrNotFound, id)
}

func errRequestNotFound(id string) error {
	return fmt.Errorf("%w: request %s", domain.ErrNotFound, id)
}
