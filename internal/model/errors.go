package model

import "errors"

// Pipeline error kinds. Adapters wrap their failures with one of these so
// callers can tell the failing stage apart with errors.Is.
var (
	ErrFetch    = errors.New("fetch failed")
	ErrClassify = errors.New("classification failed")
	ErrGenerate = errors.New("generation failed")
	ErrPublish  = errors.New("publish failed")
	ErrStorage  = errors.New("storage failed")
)
