package runtime

import "fmt"

// StreamCode identifies a structured bit-stream failure. These are the
// leaf-level codes that engine.EncodeError / engine.DecodeError wrap and
// attach a field path to.
type StreamCode string

const (
	CodeUnexpectedEnd   StreamCode = "UNEXPECTED_END"
	CodeNotByteAligned  StreamCode = "NOT_BYTE_ALIGNED"
	CodeOutOfBounds     StreamCode = "OUT_OF_BOUNDS"
	CodeOutOfRange      StreamCode = "OUT_OF_RANGE"
	CodeVarlengthTooBig StreamCode = "VARLENGTH_TOO_BIG"
	CodeNonCanonical    StreamCode = "NON_CANONICAL_VARLENGTH"
)

// StreamError is a structured failure from the bit-stream reader or writer.
// It carries the byte offset at which the failure was detected; callers one
// level up (the engine) attach the field path before the error is surfaced.
type StreamError struct {
	Code   StreamCode
	Offset int
	Msg    string
}

func (e *StreamError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s at byte %d: %s", e.Code, e.Offset, e.Msg)
	}
	return fmt.Sprintf("%s at byte %d", e.Code, e.Offset)
}

func newStreamError(code StreamCode, offset int, format string, args ...interface{}) *StreamError {
	return &StreamError{Code: code, Offset: offset, Msg: fmt.Sprintf(format, args...)}
}
