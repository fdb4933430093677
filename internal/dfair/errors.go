package dfair

import "errors"

var (
	// ErrParameterNotFound is returned for lookups of an id that is not in the catalog.
	ErrParameterNotFound = errors.New("dfair: parameter not found")
	// ErrParameterNotWritable is returned when a write targets a read-only parameter.
	ErrParameterNotWritable = errors.New("dfair: parameter is not writable")
	// ErrDatatypeUnsupported is returned when encoding or decoding a wire type
	// the codec does not implement (currently "string").
	ErrDatatypeUnsupported = errors.New("dfair: datatype unsupported")
	// ErrReadTimeout is returned when the device did not answer a read in time.
	ErrReadTimeout = errors.New("dfair: read timeout")
	// ErrWriteFailure is reported through the write-error callback when a queued
	// write frame could not be sent.
	ErrWriteFailure = errors.New("dfair: write failed")
	// ErrTransport marks a connection-level failure that ends the current pass.
	ErrTransport = errors.New("dfair: transport error")
	// ErrInvalidScheduleInput is returned by ComputeSchedule for negative intervals.
	ErrInvalidScheduleInput = errors.New("dfair: invalid schedule input")

	// ErrOutOfRange is returned by the convenience setters and the write encoder
	// when a value does not fit the allowed range.
	ErrOutOfRange = errors.New("dfair: value out of range")
	// ErrValueType is returned when a boolean is written to a numeric register.
	ErrValueType = errors.New("dfair: value type mismatch")
	// ErrShortPayload is returned when a response carries fewer bytes than the
	// parameter's datatype needs.
	ErrShortPayload = errors.New("dfair: short payload")
)
