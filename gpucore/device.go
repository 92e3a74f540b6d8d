package gpucore

// Device abstracts the execution environment of the sorter.
//
// Dispatches are recorded on a single ordered stream: every dispatch observes
// the writes of all dispatches recorded before it. Submit marks the end of a
// command sequence; the device may start executing earlier. ReadBuffer is the
// only blocking call: it returns once all previously recorded work that
// touches the buffer has finished.
//
// Implementations must be safe for concurrent use, but the sorter never
// records from more than one goroutine per resource set.
//
// Resource lifecycle:
//   - Resources are created via Create* methods
//   - Resources must be explicitly destroyed via Destroy* methods
//   - IDs become invalid after destruction and are never reused
type Device interface {
	// === Capabilities ===

	// Limits returns the device limits.
	Limits() Limits

	// === Buffer Management ===

	// CreateBuffer allocates a zero-filled element buffer.
	CreateBuffer(desc BufferDesc) (BufferID, error)

	// DestroyBuffer releases a buffer. Views over it become invalid.
	DestroyBuffer(id BufferID)

	// WriteBuffer uploads data at a byte offset.
	WriteBuffer(id BufferID, offset uint64, data []byte) error

	// ReadBuffer waits for pending work and returns size bytes from offset.
	ReadBuffer(id BufferID, offset, size uint64) ([]byte, error)

	// === Views ===

	// CreateView creates a read/write view over the whole buffer.
	CreateView(buffer BufferID) (ViewID, error)

	// DestroyView releases a view.
	DestroyView(id ViewID)

	// === Kernels ===

	// CreateKernel builds a kernel with its constants baked in.
	CreateKernel(desc KernelDesc) (KernelID, error)

	// DestroyKernel releases a kernel and its bindings.
	DestroyKernel(id KernelID)

	// Bind attaches a view to a kernel slot. The binding persists until
	// Unbind or another Bind on the same slot.
	Bind(kernel KernelID, slot Slot, view ViewID) error

	// Unbind detaches a kernel slot. Unbinding an empty slot is a no-op.
	Unbind(kernel KernelID, slot Slot)

	// === Execution ===

	// Dispatch records x*y*z work groups of the kernel with the given
	// parameters. All kernel slots must be bound.
	Dispatch(kernel KernelID, params Params, x, y, z uint32) error

	// Submit submits all recorded dispatches for execution.
	Submit() error
}
