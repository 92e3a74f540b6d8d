package cpu

import (
	"github.com/gogpu/bitonic/backend"
	"github.com/gogpu/bitonic/gpucore"
)

func init() {
	backend.Register(backend.CPU, func() (gpucore.Device, func(), error) {
		d := New()
		return d, d.Close, nil
	})
}
