//go:build !nogpu

// Package native implements gpucore.Device on a gogpu/wgpu HAL device.
//
// Kernels are WGSL templates rendered with the kernel constants baked in and
// compiled to SPIR-V with naga. Dispatches are recorded as compute passes
// into one command encoder; separate passes give the storage barriers the
// bitonic network needs between steps. Submit ends the encoder and queues
// it; completed submissions are reclaimed by polling the queue, and blocking
// calls wait until the queue reports the last one done.
package native

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/bitonic/gpucore"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// DefaultTimeout bounds every wait for the GPU.
const DefaultTimeout = 5 * time.Second

// maxPending is the number of submissions kept in flight. Submit waits for
// the oldest one before queueing more.
const maxPending = 8

// ErrTimeout is returned when queued work does not complete within the
// device timeout. The work stays queued and its resources stay alive.
var ErrTimeout = errors.New("native: timed out waiting for GPU")

// Option configures a Device.
type Option func(*options)

type options struct {
	backend gputypes.Backend
	timeout time.Duration
}

// WithBackend selects the HAL backend used by Open. Defaults to Vulkan.
func WithBackend(b gputypes.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithTimeout sets how long blocking calls wait for queued work.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func buildOptions(opts []Option) options {
	o := options{backend: gputypes.BackendVulkan, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type buffer struct {
	desc gpucore.BufferDesc
	buf  hal.Buffer
}

// groupKey identifies a cached bind group.
type groupKey struct {
	params gpucore.Params
	views  [gpucore.SlotCount]gpucore.ViewID
}

type kernel struct {
	desc       gpucore.KernelDesc
	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline

	bindings [gpucore.SlotCount]gpucore.ViewID

	// The pass sequence repeats a small set of parameter blocks, so params
	// buffers and bind groups live as long as the kernel.
	params map[gpucore.Params]hal.Buffer
	groups map[groupKey]hal.BindGroup
}

// submission is a queued command buffer and the buffers that must outlive it.
type submission struct {
	cmd     hal.CommandBuffer
	index   uint64
	release []hal.Buffer
}

// Device is a gpucore.Device backed by a HAL device and queue.
//
// Thread Safety: Device is safe for concurrent use from multiple goroutines.
// All HAL calls are serialized by a mutex.
type Device struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	external bool // true when using shared device (don't destroy on Close)
	name     string

	limits  gpucore.Limits
	timeout time.Duration
	closed  bool

	// ID generation
	nextID atomic.Uint64

	buffers map[gpucore.BufferID]*buffer
	views   map[gpucore.ViewID]gpucore.BufferID
	kernels map[gpucore.KernelID]*kernel

	// encoder records dispatches until Submit; nil when nothing is recorded.
	encoder hal.CommandEncoder
	pending []submission
	// orphans are buffers referenced by the open encoder; they move to its
	// submission on flush.
	orphans []hal.Buffer

	dispatches  atomic.Uint64
	submissions atomic.Uint64
}

var _ gpucore.Device = (*Device)(nil)

// Open creates a device on the first discrete or integrated adapter of the
// selected backend.
func Open(opts ...Option) (*Device, error) {
	o := buildOptions(opts)
	api, ok := hal.GetBackend(o.backend)
	if !ok {
		return nil, fmt.Errorf("native: %v backend not available", o.backend)
	}
	instance, err := api.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("native: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("native: no GPU adapters found")
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	requested := gputypes.DefaultLimits()
	openDev, err := selected.Adapter.Open(gputypes.Features(0), requested)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("native: open device: %w", err)
	}

	d := newDevice(openDev.Device, openDev.Queue, limitsFrom(requested), o)
	d.instance = instance
	d.name = selected.Info.Name
	slogger().Info("native: device opened", "adapter", d.name)
	return d, nil
}

// NewFromHAL wraps an existing HAL device and queue. The device is shared:
// Close releases the sorter resources but not the device itself.
func NewFromHAL(device hal.Device, queue hal.Queue, opts ...Option) *Device {
	d := newDevice(device, queue, limitsFrom(gputypes.DefaultLimits()), buildOptions(opts))
	d.external = true
	d.name = "shared"
	return d
}

// NewFromProvider wraps the HAL device of a gpucontext provider, such as a
// gogpu application. The provider must expose HalDevice() and HalQueue()
// returning hal.Device and hal.Queue.
func NewFromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("native: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("native: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("native: provider HalQueue is not hal.Queue")
	}
	slogger().Info("native: using shared GPU device")
	return NewFromHAL(device, queue, opts...), nil
}

func newDevice(device hal.Device, queue hal.Queue, limits gpucore.Limits, o options) *Device {
	d := &Device{
		device:  device,
		queue:   queue,
		limits:  limits,
		timeout: o.timeout,
		buffers: make(map[gpucore.BufferID]*buffer),
		views:   make(map[gpucore.ViewID]gpucore.BufferID),
		kernels: make(map[gpucore.KernelID]*kernel),
	}
	// Start ID generation at 1 (0 is invalid)
	d.nextID.Store(1)
	return d
}

// limitsFrom maps HAL limits onto the limits the sorter checks. Work group
// storage and dispatch size keep the WebGPU defaults every adapter meets.
func limitsFrom(l gputypes.Limits) gpucore.Limits {
	out := gpucore.DefaultLimits()
	if l.MaxBufferSize != 0 {
		out.MaxBufferSize = l.MaxBufferSize
	}
	if l.MaxComputeWorkgroupSizeX != 0 {
		out.MaxWorkgroupInvocations = min(out.MaxWorkgroupInvocations, l.MaxComputeWorkgroupSizeX)
	}
	return out
}

func (d *Device) newID() uint64 {
	return d.nextID.Add(1) - 1
}

// Name returns the adapter name.
func (d *Device) Name() string { return d.name }

// Limits returns the device limits.
func (d *Device) Limits() gpucore.Limits { return d.limits }

// SetLogger sets the logger of the native backend.
func (d *Device) SetLogger(l *slog.Logger) { setLogger(l) }

// Dispatches returns the number of recorded dispatches.
func (d *Device) Dispatches() uint64 { return d.dispatches.Load() }

// Submissions returns the number of Submit calls that queued work.
func (d *Device) Submissions() uint64 { return d.submissions.Load() }

// Close waits for pending work and releases every resource. A device opened
// with Open is destroyed; a shared device is left alive.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.settleLocked("close")
	for id, k := range d.kernels {
		d.destroyKernelLocked(k)
		delete(d.kernels, id)
	}
	for id, b := range d.buffers {
		d.device.DestroyBuffer(b.buf)
		delete(d.buffers, id)
	}
	clear(d.views)
	d.closed = true

	if !d.external {
		d.device.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	d.device, d.queue, d.instance = nil, nil, nil
}

// === Buffer Management ===

// CreateBuffer allocates a storage buffer of records.
func (d *Device) CreateBuffer(desc gpucore.BufferDesc) (gpucore.BufferID, error) {
	if desc.Stride != gpucore.RecordSize {
		return gpucore.InvalidID, fmt.Errorf("%w: element stride %d", gpucore.ErrUnsupported, desc.Stride)
	}
	size := desc.Size()
	if size == 0 || size > d.limits.MaxBufferSize {
		return gpucore.InvalidID, fmt.Errorf("%w: buffer %q of %d bytes (limit %d)",
			gpucore.ErrUnsupported, desc.Label, size, d.limits.MaxBufferSize)
	}

	usage := gputypes.BufferUsageStorage
	if desc.Usage.Has(gpucore.BufferUsageCopySrc) {
		usage |= gputypes.BufferUsageCopySrc
	}
	if desc.Usage.Has(gpucore.BufferUsageCopyDst) {
		usage |= gputypes.BufferUsageCopyDst
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label, Size: size, Usage: usage,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create buffer %q: %w", desc.Label, err)
	}
	id := gpucore.BufferID(d.newID())
	d.buffers[id] = &buffer{desc: desc, buf: buf}
	return id, nil
}

// DestroyBuffer waits for pending work and releases the buffer.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok || d.closed {
		return
	}
	d.settleLocked("destroy")
	for view, buf := range d.views {
		if buf == id {
			d.dropGroupsLocked(view)
		}
	}
	delete(d.buffers, id)
	d.device.DestroyBuffer(b.buf)
}

// WriteBuffer uploads data once recorded work has finished.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.bufferLocked(id, offset, uint64(len(data)))
	if err != nil {
		return err
	}
	if err := d.flushLocked(); err != nil {
		return err
	}
	if err := d.waitLocked(); err != nil {
		return err
	}
	if err := d.queue.WriteBuffer(b.buf, offset, data); err != nil {
		return fmt.Errorf("native: write buffer %q: %w", b.desc.Label, err)
	}
	return nil
}

// ReadBuffer copies the range to a staging buffer behind all recorded work
// and returns its contents.
func (d *Device) ReadBuffer(id gpucore.BufferID, offset, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.bufferLocked(id, offset, size)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return []byte{}, nil
	}

	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "bitonic_staging", Size: size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create staging buffer: %w", err)
	}

	enc, err := d.encoderLocked()
	if err != nil {
		d.device.DestroyBuffer(staging)
		return nil, err
	}
	enc.CopyBufferToBuffer(b.buf, staging, []hal.BufferCopy{
		{SrcOffset: offset, DstOffset: 0, Size: size},
	})
	if err := d.flushLocked(); err != nil {
		if d.encoder == nil {
			d.device.DestroyBuffer(staging)
		} else {
			// The copy is still recorded in the open encoder.
			d.orphans = append(d.orphans, staging)
		}
		return nil, err
	}
	if err := d.waitLocked(); err != nil {
		// Still in flight: the copy's submission owns the staging buffer.
		last := &d.pending[len(d.pending)-1]
		last.release = append(last.release, staging)
		return nil, err
	}
	defer d.device.DestroyBuffer(staging)

	m, err := d.device.MapBuffer(staging, 0, size)
	if err != nil {
		return nil, fmt.Errorf("native: map staging buffer: %w", err)
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(m.Ptr), size))
	if err := d.device.UnmapBuffer(staging); err != nil {
		return nil, fmt.Errorf("native: unmap staging buffer: %w", err)
	}
	return out, nil
}

func (d *Device) bufferLocked(id gpucore.BufferID, offset, size uint64) (*buffer, error) {
	if d.closed {
		return nil, gpucore.ErrDeviceClosed
	}
	b, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, id)
	}
	if offset%gpucore.RecordSize != 0 || size%gpucore.RecordSize != 0 || offset+size > b.desc.Size() {
		return nil, fmt.Errorf("%w: range [%d, %d) of buffer %q (%d bytes)",
			gpucore.ErrOutOfRange, offset, offset+size, b.desc.Label, b.desc.Size())
	}
	return b, nil
}

// === Views ===

// CreateView creates a view over the whole buffer.
func (d *Device) CreateView(id gpucore.BufferID) (gpucore.ViewID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	if _, ok := d.buffers[id]; !ok {
		return gpucore.InvalidID, fmt.Errorf("%w: buffer %d", gpucore.ErrUnknownResource, id)
	}
	view := gpucore.ViewID(d.newID())
	d.views[view] = id
	return view, nil
}

// DestroyView releases a view and the bind groups using it.
func (d *Device) DestroyView(id gpucore.ViewID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.views[id]; !ok || d.closed {
		return
	}
	d.settleLocked("destroy")
	d.dropGroupsLocked(id)
	delete(d.views, id)
}

// dropGroupsLocked destroys cached bind groups that reference view. The
// caller has waited for pending work.
func (d *Device) dropGroupsLocked(view gpucore.ViewID) {
	for _, k := range d.kernels {
		for key, bg := range k.groups {
			for _, v := range key.views {
				if v == view {
					d.device.DestroyBindGroup(bg)
					delete(k.groups, key)
					break
				}
			}
		}
	}
}

// === Kernels ===

// CreateKernel renders, compiles and builds the pipeline of a kernel.
func (d *Device) CreateKernel(desc gpucore.KernelDesc) (gpucore.KernelID, error) {
	if err := d.limits.CheckKernel(desc); err != nil {
		return gpucore.InvalidID, err
	}
	source, err := ShaderSource(desc)
	if err != nil {
		return gpucore.InvalidID, err
	}
	spirv, err := compileShader(source)
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("%w: %s kernel: %w", gpucore.ErrUnsupported, desc.Kind, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}

	k := &kernel{
		desc:   desc,
		params: make(map[gpucore.Params]hal.Buffer),
		groups: make(map[groupKey]hal.BindGroup),
	}
	if err := d.buildKernelLocked(k, spirv); err != nil {
		d.destroyKernelLocked(k)
		return gpucore.InvalidID, err
	}
	id := gpucore.KernelID(d.newID())
	d.kernels[id] = k
	slogger().Debug("native: kernel created", "kind", desc.Kind.String(), "label", desc.Label,
		"spirv_words", len(spirv))
	return id, nil
}

func (d *Device) buildKernelLocked(k *kernel, spirv []uint32) error {
	label := k.desc.Label
	var err error
	k.shader, err = d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return fmt.Errorf("native: create %s shader module: %w", label, err)
	}
	k.bindLayout, err = d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   label + "_bind_layout",
		Entries: bindingLayout(k.desc.Kind),
	})
	if err != nil {
		return fmt.Errorf("native: create %s bind group layout: %w", label, err)
	}
	k.pipeLayout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: label + "_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{k.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("native: create %s pipeline layout: %w", label, err)
	}
	k.pipeline, err = d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: label + "_pipeline", Layout: k.pipeLayout,
		Compute: hal.ComputeState{Module: k.shader, EntryPoint: "main"},
	})
	if err != nil {
		return fmt.Errorf("native: create %s compute pipeline: %w", label, err)
	}
	return nil
}

// DestroyKernel waits for pending work and releases the kernel.
func (d *Device) DestroyKernel(id gpucore.KernelID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k, ok := d.kernels[id]
	if !ok || d.closed {
		return
	}
	d.settleLocked("destroy")
	delete(d.kernels, id)
	d.destroyKernelLocked(k)
}

func (d *Device) destroyKernelLocked(k *kernel) {
	for key, bg := range k.groups {
		d.device.DestroyBindGroup(bg)
		delete(k.groups, key)
	}
	for p, ub := range k.params {
		d.device.DestroyBuffer(ub)
		delete(k.params, p)
	}
	if k.pipeline != nil {
		d.device.DestroyComputePipeline(k.pipeline)
	}
	if k.pipeLayout != nil {
		d.device.DestroyPipelineLayout(k.pipeLayout)
	}
	if k.bindLayout != nil {
		d.device.DestroyBindGroupLayout(k.bindLayout)
	}
	if k.shader != nil {
		d.device.DestroyShaderModule(k.shader)
	}
}

// Bind attaches a view to a kernel slot.
func (d *Device) Bind(id gpucore.KernelID, slot gpucore.Slot, view gpucore.ViewID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.ErrDeviceClosed
	}
	k, ok := d.kernels[id]
	if !ok {
		return fmt.Errorf("%w: kernel %d", gpucore.ErrUnknownResource, id)
	}
	if !hasSlot(k.desc.Kind, slot) {
		return fmt.Errorf("%w: %s kernel has no slot %d", gpucore.ErrOutOfRange, k.desc.Kind, slot)
	}
	if _, ok := d.views[view]; !ok {
		return fmt.Errorf("%w: view %d", gpucore.ErrUnknownResource, view)
	}
	k.bindings[slot] = view
	return nil
}

// Unbind detaches a kernel slot.
func (d *Device) Unbind(id gpucore.KernelID, slot gpucore.Slot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if k, ok := d.kernels[id]; ok && slot < gpucore.SlotCount {
		k.bindings[slot] = gpucore.InvalidID
	}
}

// Bound returns the view bound to a kernel slot.
func (d *Device) Bound(id gpucore.KernelID, slot gpucore.Slot) gpucore.ViewID {
	d.mu.Lock()
	defer d.mu.Unlock()
	if k, ok := d.kernels[id]; ok && slot < gpucore.SlotCount {
		return k.bindings[slot]
	}
	return gpucore.InvalidID
}

func hasSlot(kind gpucore.KernelKind, slot gpucore.Slot) bool {
	for _, s := range kind.Slots() {
		if s == slot {
			return true
		}
	}
	return false
}

// === Execution ===

// Dispatch records one compute pass of the kernel.
func (d *Device) Dispatch(id gpucore.KernelID, p gpucore.Params, x, y, z uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.ErrDeviceClosed
	}
	k, ok := d.kernels[id]
	if !ok {
		return fmt.Errorf("%w: kernel %d", gpucore.ErrUnknownResource, id)
	}
	if max(x, y, z) > d.limits.MaxWorkgroupsPerDimension {
		return fmt.Errorf("%w: dispatch %dx%dx%d exceeds %d per dimension",
			gpucore.ErrOutOfRange, x, y, z, d.limits.MaxWorkgroupsPerDimension)
	}

	bg, err := d.bindGroupLocked(k, p)
	if err != nil {
		return err
	}
	enc, err := d.encoderLocked()
	if err != nil {
		return err
	}

	pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: k.desc.Label})
	pass.SetPipeline(k.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(x, y, z)
	pass.End()

	d.dispatches.Add(1)
	return nil
}

// bindGroupLocked returns the bind group for the current bindings and p.
func (d *Device) bindGroupLocked(k *kernel, p gpucore.Params) (hal.BindGroup, error) {
	key := groupKey{params: p}
	var bufs [gpucore.SlotCount]*buffer
	for _, slot := range k.desc.Kind.Slots() {
		view := k.bindings[slot]
		if view == gpucore.InvalidID {
			return nil, fmt.Errorf("%w: %s slot %d", gpucore.ErrUnbound, k.desc.Kind, slot)
		}
		bufID, ok := d.views[view]
		if !ok {
			return nil, fmt.Errorf("%w: view %d", gpucore.ErrUnknownResource, view)
		}
		b, ok := d.buffers[bufID]
		if !ok {
			return nil, fmt.Errorf("%w: buffer %d behind view %d", gpucore.ErrUnknownResource, bufID, view)
		}
		if b.desc.Count < k.desc.ElementCount {
			return nil, fmt.Errorf("%w: buffer %q holds %d records, kernel needs %d",
				gpucore.ErrOutOfRange, b.desc.Label, b.desc.Count, k.desc.ElementCount)
		}
		key.views[slot] = view
		bufs[slot] = b
	}
	if k.desc.Kind == gpucore.KernelTranspose &&
		(bufs[gpucore.SlotPosition] == bufs[gpucore.SlotPositionOut] ||
			bufs[gpucore.SlotColor] == bufs[gpucore.SlotColorOut]) {
		return nil, fmt.Errorf("%w: transpose input and output alias the same buffer", gpucore.ErrUnsupported)
	}

	if bg, ok := k.groups[key]; ok {
		return bg, nil
	}

	ub, ok := k.params[p]
	if !ok {
		var err error
		ub, err = d.device.CreateBuffer(&hal.BufferDescriptor{
			Label: k.desc.Label + "_params", Size: gpucore.ParamsSize,
			Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return nil, fmt.Errorf("native: create params buffer: %w", err)
		}
		if err := d.queue.WriteBuffer(ub, 0, gpucore.EncodeParams(p)); err != nil {
			d.device.DestroyBuffer(ub)
			return nil, fmt.Errorf("native: write params buffer: %w", err)
		}
		k.params[p] = ub
	}

	entries := []gputypes.BindGroupEntry{
		{Binding: 0, Resource: gputypes.BufferBinding{Buffer: ub.NativeHandle(), Offset: 0, Size: gpucore.ParamsSize}},
	}
	for _, slot := range k.desc.Kind.Slots() {
		b := bufs[slot]
		entries = append(entries, gputypes.BindGroupEntry{
			Binding:  uint32(slot) + 1,
			Resource: gputypes.BufferBinding{Buffer: b.buf.NativeHandle(), Offset: 0, Size: b.desc.Size()},
		})
	}
	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: k.desc.Label + "_bind", Layout: k.bindLayout, Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create bind group: %w", err)
	}
	k.groups[key] = bg
	return bg, nil
}

// Submit ends the recorded command buffer and queues it.
func (d *Device) Submit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.ErrDeviceClosed
	}
	if d.encoder == nil {
		return nil
	}
	if err := d.flushLocked(); err != nil {
		return err
	}
	d.submissions.Add(1)
	return nil
}

func (d *Device) encoderLocked() (hal.CommandEncoder, error) {
	if d.encoder != nil {
		return d.encoder, nil
	}
	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "bitonic_encoder"})
	if err != nil {
		return nil, fmt.Errorf("native: create command encoder: %w", err)
	}
	if err := enc.BeginEncoding("bitonic"); err != nil {
		return nil, fmt.Errorf("native: begin encoding: %w", err)
	}
	d.encoder = enc
	return enc, nil
}

// flushLocked submits the open encoder, if any. When maxPending
// submissions are in flight it first waits for the oldest; if that wait
// times out the encoder stays open and nothing is queued.
func (d *Device) flushLocked() error {
	if d.encoder == nil {
		return nil
	}
	d.reclaimLocked(d.queue.PollCompleted())
	if len(d.pending) >= maxPending {
		if err := d.waitForLocked(d.pending[0].index); err != nil {
			return err
		}
	}
	enc := d.encoder
	d.encoder = nil
	release := d.orphans
	d.orphans = nil

	cmdBuf, err := enc.EndEncoding()
	if err != nil {
		d.destroyBuffersLocked(release)
		return fmt.Errorf("native: end encoding: %w", err)
	}
	index, err := d.queue.Submit([]hal.CommandBuffer{cmdBuf})
	if err != nil {
		d.device.FreeCommandBuffer(cmdBuf)
		d.destroyBuffersLocked(release)
		return fmt.Errorf("native: submit: %w", err)
	}
	d.pending = append(d.pending, submission{cmd: cmdBuf, index: index, release: release})
	return nil
}

// reclaimLocked frees the submissions with an index up to done.
func (d *Device) reclaimLocked(done uint64) {
	n := 0
	for n < len(d.pending) && d.pending[n].index <= done {
		d.freeLocked(d.pending[n])
		n++
	}
	if n > 0 {
		d.pending = append(d.pending[:0], d.pending[n:]...)
	}
}

func (d *Device) freeLocked(s submission) {
	d.device.FreeCommandBuffer(s.cmd)
	d.destroyBuffersLocked(s.release)
}

func (d *Device) destroyBuffersLocked(bufs []hal.Buffer) {
	for _, b := range bufs {
		d.device.DestroyBuffer(b)
	}
}

// waitForLocked polls the queue until submission index has completed. On
// timeout it returns ErrTimeout and leaves the unfinished submissions queued.
func (d *Device) waitForLocked(index uint64) error {
	deadline := time.Now().Add(d.timeout)
	backoff := 10 * time.Microsecond
	for {
		done := d.queue.PollCompleted()
		d.reclaimLocked(done)
		if done >= index {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: submission %d after %v (completed %d)", ErrTimeout, index, d.timeout, done)
		}
		time.Sleep(backoff)
		backoff = min(2*backoff, time.Millisecond)
	}
}

// waitLocked waits for every queued submission.
func (d *Device) waitLocked() error {
	if len(d.pending) == 0 {
		return nil
	}
	return d.waitForLocked(d.pending[len(d.pending)-1].index)
}

// drainLocked waits for queued work before resources are destroyed. When the
// bounded wait fails it falls back to waiting for the device to go idle, then
// frees everything.
func (d *Device) drainLocked(op string) {
	if err := d.waitLocked(); err != nil {
		slogger().Warn("native: wait before "+op, "err", err)
		if err := d.device.WaitIdle(); err != nil {
			slogger().Error("native: device wait idle", "err", err)
		}
	}
	for _, s := range d.pending {
		d.freeLocked(s)
	}
	d.pending = d.pending[:0]
}

// settleLocked flushes and waits before resources are destroyed. A flush
// refused for lack of room is retried once the queue is drained.
func (d *Device) settleLocked(op string) {
	if err := d.flushLocked(); err != nil {
		slogger().Warn("native: flush before "+op, "err", err)
		d.drainLocked(op)
		if err := d.flushLocked(); err != nil {
			slogger().Warn("native: flush before "+op, "err", err)
		}
	}
	d.drainLocked(op)
}
