package scene

import "errors"

// Sentinel errors for manifests and the scene host.
var (
	ErrInvalidManifest = errors.New("invalid collection manifest")
	ErrSceneClosed     = errors.New("scene is closed")
	ErrForeignObject   = errors.New("object does not belong to this scene")
)
