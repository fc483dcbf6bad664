package storage

import "errors"

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSlugTaken indicates that an entity insert lost the race for a slug.
	// The unique-slug constraint is the de-facto concurrency control for
	// concurrent findOrCreate calls; callers re-lookup and retry once.
	ErrSlugTaken = errors.New("entity slug already taken")
)
