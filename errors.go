package volcache

import "errors"

// Standard errors returned by the cache surface.
var (
	ErrNoEnumerator  = errors.New("volcache: no device enumerator configured")
	ErrNoReader      = errors.New("volcache: no label reader configured")
	ErrUnknownFormat = errors.New("volcache: unknown metadata format")
)
