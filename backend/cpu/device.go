// Package cpu implements gpucore.Device in host memory.
//
// Kernels execute eagerly in recording order: Dispatch runs the host kernels
// of the kernel package for every work group on a worker pool and returns
// when they have finished. The device is the reference the GPU backend is
// checked against, and runs the sorter where no adapter is available.
package cpu

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/image/math/f32"

	"github.com/gogpu/bitonic/gpucore"
	"github.com/gogpu/bitonic/internal/parallel"
)

// DispatchHook observes every dispatch before it executes. A non-nil error
// aborts the dispatch and is returned from Dispatch. The hook runs with the
// device locked for reading and must not create, bind or destroy resources.
type DispatchHook func(kind gpucore.KernelKind, params gpucore.Params, x, y, z uint32) error

// Option configures a Device.
type Option func(*Device)

// WithWorkers sets the number of pool workers. Zero or negative uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(d *Device) { d.workers = n }
}

// WithLimits overrides the reported device limits.
func WithLimits(l gpucore.Limits) Option {
	return func(d *Device) { d.limits = l }
}

// WithDispatchHook installs a hook called before every dispatch.
func WithDispatchHook(h DispatchHook) Option {
	return func(d *Device) { d.hook = h }
}

type buffer struct {
	desc gpucore.BufferDesc
	data []f32.Vec4
}

type kernelState struct {
	desc     gpucore.KernelDesc
	bindings [gpucore.SlotCount]gpucore.ViewID
}

// Device is a host-memory gpucore.Device.
//
// Thread Safety: Device is safe for concurrent use from multiple goroutines.
type Device struct {
	mu      sync.RWMutex
	pool    *parallel.WorkerPool
	workers int
	limits  gpucore.Limits
	hook    DispatchHook
	closed  bool

	nextID atomic.Uint64

	buffers map[gpucore.BufferID]*buffer
	views   map[gpucore.ViewID]gpucore.BufferID
	kernels map[gpucore.KernelID]*kernelState

	dispatches  atomic.Uint64
	submissions atomic.Uint64
}

var _ gpucore.Device = (*Device)(nil)

// New creates a host device.
func New(opts ...Option) *Device {
	d := &Device{
		limits:  gpucore.DefaultLimits(),
		buffers: make(map[gpucore.BufferID]*buffer),
		views:   make(map[gpucore.ViewID]gpucore.BufferID),
		kernels: make(map[gpucore.KernelID]*kernelState),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.pool = parallel.NewWorkerPool(d.workers)

	// Start ID generation at 1 (0 is invalid)
	d.nextID.Store(1)
	return d
}

func (d *Device) newID() uint64 {
	return d.nextID.Add(1) - 1
}

// Close stops the worker pool and releases all resources.
func (d *Device) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	clear(d.buffers)
	clear(d.views)
	clear(d.kernels)
	d.mu.Unlock()

	d.pool.Close()
}

// Dispatches returns the number of executed dispatches.
func (d *Device) Dispatches() uint64 { return d.dispatches.Load() }

// Submissions returns the number of Submit calls.
func (d *Device) Submissions() uint64 { return d.submissions.Load() }

// Limits returns the device limits.
func (d *Device) Limits() gpucore.Limits { return d.limits }

// === Buffer Management ===

// CreateBuffer allocates a zero-filled buffer of records.
func (d *Device) CreateBuffer(desc gpucore.BufferDesc) (gpucore.BufferID, error) {
	if desc.Stride != gpucore.RecordSize {
		return gpucore.InvalidID, fmt.Errorf("%w: element stride %d (cpu device stores %d-byte records)",
			gpucore.ErrUnsupported, desc.Stride, gpucore.RecordSize)
	}
	if desc.Size() > d.limits.MaxBufferSize {
		return gpucore.InvalidID, fmt.Errorf("%w: buffer %q of %d bytes exceeds %d",
			gpucore.ErrUnsupported, desc.Label, desc.Size(), d.limits.MaxBufferSize)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	id := gpucore.BufferID(d.newID())
	d.buffers[id] = &buffer{desc: desc, data: make([]f32.Vec4, desc.Count)}
	return id, nil
}

// DestroyBuffer releases a buffer and every view over it.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buffers, id)
	for v, b := range d.views {
		if b == id {
			delete(d.views, v)
		}
	}
}

// recordRange converts a byte range into a record range.
func recordRange(b *buffer, offset, size uint64) (first, count uint64, err error) {
	if offset%gpucore.RecordSize != 0 || size%gpucore.RecordSize != 0 {
		return 0, 0, fmt.Errorf("%w: offset %d and size %d must be multiples of %d",
			gpucore.ErrOutOfRange, offset, size, gpucore.RecordSize)
	}
	if offset+size > b.desc.Size() {
		return 0, 0, fmt.Errorf("%w: [%d, %d) past end of %q (%d bytes)",
			gpucore.ErrOutOfRange, offset, offset+size, b.desc.Label, b.desc.Size())
	}
	return offset / gpucore.RecordSize, size / gpucore.RecordSize, nil
}

// WriteBuffer decodes data into the buffer at a byte offset.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	b, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, id)
	}
	first, count, err := recordRange(b, offset, uint64(len(data)))
	if err != nil {
		return err
	}
	return gpucore.DecodeRecords(b.data[first:first+count], data)
}

// ReadBuffer encodes size bytes of the buffer from offset.
func (d *Device) ReadBuffer(id gpucore.BufferID, offset, size uint64) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	b, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, id)
	}
	first, count, err := recordRange(b, offset, size)
	if err != nil {
		return nil, err
	}
	return gpucore.EncodeRecords(b.data[first : first+count]), nil
}

// === Views ===

// CreateView creates a view over a buffer.
func (d *Device) CreateView(buf gpucore.BufferID) (gpucore.ViewID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.buffers[buf]; !ok {
		return gpucore.InvalidID, fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, buf)
	}
	id := gpucore.ViewID(d.newID())
	d.views[id] = buf
	return id, nil
}

// DestroyView releases a view.
func (d *Device) DestroyView(id gpucore.ViewID) {
	d.mu.Lock()
	delete(d.views, id)
	d.mu.Unlock()
}

// === Kernels ===

// CreateKernel registers a kernel after checking it against the limits.
func (d *Device) CreateKernel(desc gpucore.KernelDesc) (gpucore.KernelID, error) {
	if err := d.limits.CheckKernel(desc); err != nil {
		return gpucore.InvalidID, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	id := gpucore.KernelID(d.newID())
	d.kernels[id] = &kernelState{desc: desc}
	return id, nil
}

// DestroyKernel releases a kernel.
func (d *Device) DestroyKernel(id gpucore.KernelID) {
	d.mu.Lock()
	delete(d.kernels, id)
	d.mu.Unlock()
}

// Bind attaches a view to a kernel slot.
func (d *Device) Bind(k gpucore.KernelID, slot gpucore.Slot, view gpucore.ViewID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ks, ok := d.kernels[k]
	if !ok {
		return fmt.Errorf("%w: kernel %d", gpucore.ErrUnknownResource, k)
	}
	if slot >= gpucore.SlotCount {
		return fmt.Errorf("%w: slot %d", gpucore.ErrOutOfRange, slot)
	}
	if _, ok := d.views[view]; !ok {
		return fmt.Errorf("%w: view %d", gpucore.ErrUnknownResource, view)
	}
	ks.bindings[slot] = view
	return nil
}

// Unbind detaches a kernel slot.
func (d *Device) Unbind(k gpucore.KernelID, slot gpucore.Slot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ks, ok := d.kernels[k]; ok && slot < gpucore.SlotCount {
		ks.bindings[slot] = gpucore.InvalidID
	}
}

// Bound returns the view bound to a kernel slot, or InvalidID.
func (d *Device) Bound(k gpucore.KernelID, slot gpucore.Slot) gpucore.ViewID {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if ks, ok := d.kernels[k]; ok && slot < gpucore.SlotCount {
		return ks.bindings[slot]
	}
	return gpucore.InvalidID
}

// === Execution ===

// Submit marks the end of a command sequence. Dispatches have already
// executed, so Submit only counts.
func (d *Device) Submit() error {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return gpucore.ErrDeviceClosed
	}
	d.submissions.Add(1)
	return nil
}
