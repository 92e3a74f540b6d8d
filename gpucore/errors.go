package gpucore

import "errors"

// Sentinel errors shared by device implementations.
var (
	// ErrUnknownResource is returned when an ID does not name a live resource.
	ErrUnknownResource = errors.New("gpucore: unknown resource")

	// ErrUnbound is returned when a kernel is dispatched with an empty slot.
	ErrUnbound = errors.New("gpucore: kernel slot not bound")

	// ErrOutOfRange is returned for accesses past the end of a buffer.
	ErrOutOfRange = errors.New("gpucore: access out of range")

	// ErrUnsupported is returned when a request exceeds device limits.
	ErrUnsupported = errors.New("gpucore: unsupported by device")

	// ErrDeviceClosed is returned after the device has been closed.
	ErrDeviceClosed = errors.New("gpucore: device closed")
)
