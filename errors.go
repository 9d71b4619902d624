package iso9660

import (
	"errors"
	"fmt"
	"github.com/davejbax/go-isofs/internal/tree"
)

var (
	ErrNotInitialized     = errors.New("image is not initialized")
	ErrAlreadyInitialized = errors.New("image is already initialized")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrCorruptImage       = errors.New("corrupt image")

	ErrInvalidName          = tree.ErrInvalidName
	ErrInvalidRockRidgeName = tree.ErrInvalidRockRidgeName
	ErrDuplicateEntry       = tree.ErrDuplicateEntry
	ErrNotFound             = tree.ErrNotFound
	ErrDirectoryNotEmpty    = tree.ErrDirectoryNotEmpty
	ErrHierarchyTooDeep     = tree.ErrHierarchyTooDeep

	// ErrAlreadyExists is returned when a hard link would be created at a path that is already bound
	ErrAlreadyExists = fmt.Errorf("%w: already exists", ErrDuplicateEntry)
)

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %w", ErrCorruptImage, fmt.Errorf(format, args...))
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %w", ErrInvalidArgument, fmt.Errorf(format, args...))
}
