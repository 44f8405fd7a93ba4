package resolver

import "errors"

// Sentinel errors for collection load/unload.
var (
	ErrZeroIdentifier = errors.New("collection identifier is zero")
	ErrHandleConflict = errors.New("handle already bound to another collection")
	ErrNotLoaded      = errors.New("collection handle not loaded")
)
