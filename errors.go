package knowpack

import "errors"

var (
	// ErrNoResults is returned when retrieval yields no matching articles.
	ErrNoResults = errors.New("knowpack: no results found")

	// ErrEntityNotFound is returned when an entity lookup misses.
	ErrEntityNotFound = errors.New("knowpack: entity not found")

	// ErrNoPath is returned when no relationship path connects two
	// entities within the hop limit.
	ErrNoPath = errors.New("knowpack: no relationship path found")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("knowpack: invalid configuration")

	// ErrPackNotFound is returned when an installed pack is missing.
	ErrPackNotFound = errors.New("knowpack: pack not found")
)
