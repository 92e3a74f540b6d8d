// Package backend selects the device a sorter runs on.
//
// Device packages register a factory on import:
//
//	import (
//		_ "github.com/gogpu/bitonic/backend/cpu"    // "cpu"
//		_ "github.com/gogpu/bitonic/backend/native" // "native"
//	)
//
// # Device Selection
//
// Use Default to open the best available device, or Open to request one
// by name:
//
//	name, dev, closeDev, err := backend.Default()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer closeDev()
//
//	sorter, err := bitonic.NewSorter(dev, bitonic.Config{})
//
// # Available Devices
//
// - "native": GPU compute via gogpu/wgpu (not built with -tags nogpu)
// - "cpu": host emulation of the kernels (always available)
package backend
