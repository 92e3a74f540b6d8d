// Package gpucore defines the device contract that the bitonic sorter drives.
//
// The sorter never talks to a GPU API directly. Everything it needs from the
// execution environment is expressed by the [Device] interface: allocating
// element buffers, creating views over them, building the sort, transpose,
// merge and publish kernels, binding views to kernel slots, recording
// dispatches and reading results back. Two implementations live in this
// module:
//
//	               +-----------------+
//	               |  bitonic.Sorter |
//	               |  (pass plan)    |
//	               +--------+--------+
//	                        |  gpucore.Device
//	         +--------------+--------------+
//	         |                             |
//	+--------v--------+          +--------v--------+
//	|  backend/cpu    |          | backend/native  |
//	| (worker pool)   |          |  (hal.Device)   |
//	+-----------------+          +--------+--------+
//	                                      |
//	                             +--------v--------+
//	                             |   gogpu/wgpu    |
//	                             |   (Pure Go)     |
//	                             +-----------------+
//
// # Resource Management
//
// Resources are referenced by opaque IDs ([BufferID], [ViewID], [KernelID]).
// Each device maps IDs to its own resources and releases them through the
// matching Destroy method. IDs are never reused after destruction.
//
// # Kernels
//
// A kernel is a compiled compute stage with its constants baked in at
// creation ([KernelDesc]). Per-dispatch values travel in [Params]. Views are
// bound to numbered [Slot]s; the slot layout of each [KernelKind] is fixed:
//
//	Sort, Merge:          SlotPosition, SlotColor (read-write)
//	Transpose, Publish:   SlotPosition, SlotColor (read)
//	                      SlotPositionOut, SlotColorOut (write)
//
// # Records
//
// Element buffers hold [RecordSize]-byte records: four little-endian IEEE-754
// float32 values. [EncodeRecords] and [DecodeRecords] convert between the wire
// form and [f32.Vec4].
package gpucore
