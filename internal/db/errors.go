package db

import "errors"

// ErrCollectionNotFound is returned when no collection is stored under an id.
var ErrCollectionNotFound = errors.New("collection not found")
