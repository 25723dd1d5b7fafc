package signal

import "errors"

var (
	// ErrMalformedFrame is returned when a frame is not valid JSON or is
	// missing its type tag.
	ErrMalformedFrame = errors.New("signal: malformed frame")

	// ErrUnknownSignalType is returned when a frame's type tag is not one of
	// the recognized envelope subtypes.
	ErrUnknownSignalType = errors.New("signal: unknown signal type")
)
