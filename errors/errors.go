// Package errors defines all exported error sentinels for the bucketsort library.
//
// This is the single source of truth for error values. Both the top-level
// bucketsort package and the internal engines import from here, ensuring
// errors.Is checks work across package boundaries.
package errors

import "errors"

// Input errors
var (
	ErrMalformedInput = errors.New("bucketsort: malformed input record")
	ErrRecordTooLong  = errors.New("bucketsort: record exceeds maximum field length (255 bytes)")
)

// Sort phase errors
var (
	ErrGroupTooLarge  = errors.New("bucketsort: group does not fit in the line-key arena")
	ErrChecksumFailed = errors.New("bucketsort: intermediate extent checksum verification failed")
	ErrCorruptedGroup = errors.New("bucketsort: intermediate group data is corrupted")
)

// Configuration errors
var (
	ErrInvalidConfig = errors.New("bucketsort: invalid configuration")
)
