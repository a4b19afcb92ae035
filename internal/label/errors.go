package label

import "errors"

var (
	// ErrInvalidAccessKey is returned when the invoice key cannot seed label codes
	ErrInvalidAccessKey = errors.New("invoice access key is missing or malformed")
	// ErrInvalidCount is returned for a negative count or one above MaxVolumes
	ErrInvalidCount = errors.New("invalid volume count")
	// ErrInvalidCatalog is returned when a hazmat catalog cannot be decoded
	ErrInvalidCatalog = errors.New("invalid hazmat catalog")
)
