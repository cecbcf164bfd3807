package graph

import "errors"

// ErrInvalid marks mutation input that fails validation.
var ErrInvalid = errors.New("invalid input")

// ErrNotFound marks a mutation against a node or edge that does not exist.
var ErrNotFound = errors.New("not found")
