//go:build !nogpu

package native

import (
	"github.com/gogpu/bitonic/backend"
	"github.com/gogpu/bitonic/gpucore"
)

func init() {
	backend.Register(backend.Native, func() (gpucore.Device, func(), error) {
		d, err := Open()
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	})
}
