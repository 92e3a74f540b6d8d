// Package bitonic sorts particle records on a compute device with a
// block bitonic network.
//
// # Overview
//
// A Sorter owns a pair of device buffers: positions and colors, one
// four-component float record per element. Each invocation reorders both
// buffers by a key component of the position (w by default) so that
// positions[i] and colors[i] move together.
//
//	dev := cpu.New()
//	defer dev.Close()
//
//	s, err := bitonic.NewSorter(dev, bitonic.Config{ElementCount: 1 << 16})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer s.Close()
//
//	_ = s.SetData(positions, colors)
//	if started, err := s.Sort(ctx); started && err == nil {
//		positions, colors, _ = s.Snapshot()
//	}
//
// # Pass Sequence
//
// Records are grouped into blocks of BlockSize. The sort kernel runs a
// bitonic network inside each block in workgroup shared memory. Levels
// larger than a block are reached either by transposing the
// (ElementCount/BlockSize) x BlockSize matrix, so that the columns become
// blocks, or by global merge passes. Plan returns the exact sequence for a
// configuration.
//
// # Invocation Policy
//
// At most one invocation runs per Sorter. Calls made while one is in
// progress are dropped, not queued: Sort returns started == false and the
// buffers are left untouched. Executor hands requests from a frame loop to
// a worker goroutine under the same policy.
//
// # Backends
//
// The gpucore.Device interface is implemented by backend/cpu (goroutine
// workgroups, always available) and backend/native (WGSL kernels on a
// wgpu HAL device). Both register with package backend, whose Default opens
// the GPU when an adapter is present and falls back to the host.
package bitonic

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
