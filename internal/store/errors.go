package store

import "errors"

// ErrNotFound is returned when a lookup by video_id matches no row.
var ErrNotFound = errors.New("store: stream not found")
