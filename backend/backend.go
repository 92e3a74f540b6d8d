package backend

import (
	"errors"

	"github.com/gogpu/bitonic/gpucore"
)

// Device name constants.
const (
	// CPU is the name of the host device (backend/cpu).
	CPU = "cpu"
	// Native is the name of the Pure Go GPU device (gogpu/wgpu).
	Native = "native"
)

// ErrNotAvailable is returned when a requested device is not registered or
// cannot be opened.
var ErrNotAvailable = errors.New("backend: not available")

// Factory opens a new device. The returned close function releases it.
type Factory func() (dev gpucore.Device, closeFn func(), err error)
