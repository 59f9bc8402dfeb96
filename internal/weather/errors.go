package weather

import "errors"

var (
	// ErrNotFound is returned by stores when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	ErrInvalidLocationKey = errors.New("invalid location key")
	ErrLocationInactive   = errors.New("location is inactive")

	// Pipeline failure classes. Every Ingest error wraps exactly one of these.
	ErrTransport      = errors.New("transport error")
	ErrProviderStatus = errors.New("provider returned non-2xx status")
	ErrParse          = errors.New("payload parse error")
	ErrStorage        = errors.New("storage error")

	// ErrQuality is returned by CheckQuality when the warehouse fails a data quality check.
	ErrQuality = errors.New("data quality check failed")
)
