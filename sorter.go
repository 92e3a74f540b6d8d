package bitonic

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/image/math/f32"

	"github.com/gogpu/bitonic/gpucore"
)

// State is the execution state of a Sorter.
type State int32

const (
	// StateIdle accepts a new invocation.
	StateIdle State = iota

	// StateExecuting runs a pass sequence; new invocations are dropped.
	StateExecuting

	// StateTearingDown is final: the sorter is closing or closed.
	StateTearingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExecuting:
		return "executing"
	case StateTearingDown:
		return "tearing down"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// bufferPair is a position/color buffer pair with one view each.
type bufferPair struct {
	pos, col         gpucore.BufferID
	posView, colView gpucore.ViewID
}

// Sorter sorts a position/color record pair on a device.
//
// A Sorter owns its buffers and kernels for its whole life. At most one
// invocation runs at a time: calls made while one is in progress are
// dropped and report started == false. Data set with SetData is staged on
// the host and uploaded at the start of the next invocation.
//
// Thread Safety: Sorter is safe for concurrent use from multiple goroutines.
type Sorter struct {
	dev  gpucore.Device
	cfg  Config
	plan []Pass

	state atomic.Int32

	// runMu serializes pass sequences, read-back and teardown.
	runMu sync.Mutex

	sets    [setCount]bufferPair
	hasSet  [setCount]bool
	kernels [4]gpucore.KernelID

	// bound tracks the view in each kernel slot for unbinding.
	bound [4][gpucore.SlotCount]gpucore.ViewID

	// dataMu guards the staged host copy.
	dataMu    sync.Mutex
	stagedPos []f32.Vec4
	stagedCol []f32.Vec4
	dirty     bool

	stats statsCounters
}

// NewSorter validates cfg against the device limits, allocates the buffers
// and builds the kernels the pass sequence needs.
//
// Configuration errors wrap ErrInvalidConfig; device failures wrap
// ErrResourceUnavailable.
func NewSorter(dev gpucore.Device, cfg Config) (*Sorter, error) {
	if dev == nil {
		return nil, fmt.Errorf("%w: device is required", ErrInvalidConfig)
	}
	limits := dev.Limits()
	cfg, err := cfg.Resolve(limits)
	if err != nil {
		return nil, err
	}

	s := &Sorter{
		dev:  dev,
		cfg:  cfg,
		plan: buildPlan(cfg, limits),
	}

	if err := s.allocate(); err != nil {
		s.release()
		return nil, err
	}

	trackDevice(dev)
	Logger().Info("bitonic: sorter created",
		"elements", cfg.ElementCount,
		"block", cfg.BlockSize,
		"tile", cfg.TileSize,
		"strategy", cfg.Strategy.String(),
		"order", cfg.Order.String(),
		"key", cfg.Key.String(),
		"passes", len(s.plan))
	return s, nil
}

// allocate creates every buffer pair and kernel used by the plan.
func (s *Sorter) allocate() error {
	for set := range setCount {
		if set != SetPrimary && !usesSet(s.plan, set) {
			continue
		}
		if err := s.allocatePair(set); err != nil {
			return err
		}
	}

	for kind := range gpucore.KernelKind(len(s.kernels)) {
		if !usesKernel(s.plan, kind) {
			continue
		}
		id, err := s.dev.CreateKernel(gpucore.KernelDesc{
			Label:         "bitonic_" + kind.String(),
			Kind:          kind,
			ElementCount:  s.cfg.ElementCount,
			BlockSize:     s.cfg.BlockSize,
			TileSize:      s.cfg.TileSize,
			WorkgroupSize: s.cfg.WorkgroupSize,
			KeyComponent:  s.cfg.Key.index(),
			Descending:    s.cfg.Order == Descending,
		})
		if err != nil {
			return fmt.Errorf("%w: create %s kernel: %w", ErrResourceUnavailable, kind, err)
		}
		s.kernels[kind] = id
	}
	return nil
}

func (s *Sorter) allocatePair(set BufferSet) error {
	p := &s.sets[set]
	s.hasSet[set] = true

	desc := gpucore.BufferDesc{
		Stride: gpucore.RecordSize,
		Count:  s.cfg.ElementCount,
		Usage: gpucore.BufferUsageStorage | gpucore.BufferUsageUnordered |
			gpucore.BufferUsageCopySrc | gpucore.BufferUsageCopyDst,
	}
	var err error
	for _, b := range []struct {
		name string
		buf  *gpucore.BufferID
		view *gpucore.ViewID
	}{
		{"positions", &p.pos, &p.posView},
		{"colors", &p.col, &p.colView},
	} {
		desc.Label = fmt.Sprintf("bitonic_%s_%s", set, b.name)
		if *b.buf, err = s.dev.CreateBuffer(desc); err != nil {
			return fmt.Errorf("%w: allocate %s: %w", ErrResourceUnavailable, desc.Label, err)
		}
		if *b.view, err = s.dev.CreateView(*b.buf); err != nil {
			return fmt.Errorf("%w: create view of %s: %w", ErrResourceUnavailable, desc.Label, err)
		}
	}
	return nil
}

// release unbinds and destroys every device resource. Safe on a partially
// allocated sorter.
func (s *Sorter) release() {
	s.unbindAll()
	for kind, id := range s.kernels {
		if id != gpucore.InvalidID {
			s.dev.DestroyKernel(id)
			s.kernels[kind] = gpucore.InvalidID
		}
	}
	for set := range s.sets {
		if !s.hasSet[set] {
			continue
		}
		p := &s.sets[set]
		for _, v := range []gpucore.ViewID{p.posView, p.colView} {
			if v != gpucore.InvalidID {
				s.dev.DestroyView(v)
			}
		}
		for _, b := range []gpucore.BufferID{p.pos, p.col} {
			if b != gpucore.InvalidID {
				s.dev.DestroyBuffer(b)
			}
		}
		s.sets[set] = bufferPair{}
		s.hasSet[set] = false
	}
}

// Config returns the resolved configuration.
func (s *Sorter) Config() Config { return s.cfg }

// Plan returns a copy of the pass sequence.
func (s *Sorter) Plan() []Pass {
	return append([]Pass(nil), s.plan...)
}

// State returns the current execution state.
func (s *Sorter) State() State { return State(s.state.Load()) }

// tryBegin moves Idle to Executing. It fails while another invocation runs
// and after teardown began.
func (s *Sorter) tryBegin() bool {
	if s.state.CompareAndSwap(int32(StateIdle), int32(StateExecuting)) {
		return true
	}
	s.stats.dropped.Add(1)
	Logger().Debug("bitonic: invocation dropped", "state", s.State().String())
	return false
}

// end returns Executing to Idle. A concurrent Close keeps the sorter in
// StateTearingDown.
func (s *Sorter) end() {
	s.state.CompareAndSwap(int32(StateExecuting), int32(StateIdle))
}

// Sort runs the full pass sequence and returns once it has been submitted.
//
// When another invocation is in progress or the sorter is closing, Sort
// returns immediately with started == false and a nil error, leaving the
// buffers untouched. ctx is checked once before the upload: a done context
// yields ctx.Err() with the buffers untouched, and a sequence that has begun
// always runs to the end. When started, a non-nil err wrapping
// ErrResourceUnavailable means a device call failed partway; the sorter is
// idle again either way.
func (s *Sorter) Sort(ctx context.Context) (started bool, err error) {
	if !s.tryBegin() {
		return false, nil
	}
	defer s.end()
	return true, s.run(ctx)
}

// run executes the pass sequence. The caller holds the Executing state.
func (s *Sorter) run(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.State() == StateTearingDown {
		return ErrClosed
	}
	// Once the upload begins the sequence runs to the end; Close waits on
	// runMu for it.
	if err := ctx.Err(); err != nil {
		return err
	}
	s.stats.started.Add(1)
	start := time.Now()

	if err := s.execute(); err != nil {
		s.unbindAll()
		s.stats.failed.Add(1)
		Logger().Warn("bitonic: invocation failed", "err", err)
		return err
	}

	elapsed := time.Since(start)
	s.stats.complete(elapsed)
	Logger().Debug("bitonic: invocation complete",
		"passes", len(s.plan),
		"duration", elapsed)
	return nil
}

func (s *Sorter) execute() error {
	if err := s.uploadIfDirty(); err != nil {
		return err
	}

	for i, pass := range s.plan {
		if err := s.encode(pass); err != nil {
			return fmt.Errorf("%w: pass %d (%s): %w", ErrResourceUnavailable, i, pass, err)
		}
		s.stats.dispatches.Add(1)
	}

	if err := s.dev.Submit(); err != nil {
		return fmt.Errorf("%w: submit: %w", ErrResourceUnavailable, err)
	}
	s.unbindAll()
	return nil
}

// encode binds the views of a pass and records its dispatch.
func (s *Sorter) encode(p Pass) error {
	k := s.kernels[p.Kind]
	src := s.sets[p.Src]
	views := [gpucore.SlotCount]gpucore.ViewID{src.posView, src.colView}
	if p.Kind == gpucore.KernelTranspose || p.Kind == gpucore.KernelPublish {
		dst := s.sets[p.Dst]
		views[gpucore.SlotPositionOut] = dst.posView
		views[gpucore.SlotColorOut] = dst.colView
	}

	for _, slot := range p.Kind.Slots() {
		if s.bound[p.Kind][slot] == views[slot] {
			continue
		}
		if err := s.dev.Bind(k, slot, views[slot]); err != nil {
			return fmt.Errorf("bind slot %d: %w", slot, err)
		}
		s.bound[p.Kind][slot] = views[slot]
	}

	Logger().Debug("bitonic: dispatch", "pass", p.String(), "groups_x", p.X, "groups_y", p.Y)
	return s.dev.Dispatch(k, p.Params, p.X, p.Y, 1)
}

// unbindAll detaches every view bound by the sorter.
func (s *Sorter) unbindAll() {
	for kind := range s.bound {
		for slot, v := range s.bound[kind] {
			if v == gpucore.InvalidID {
				continue
			}
			s.dev.Unbind(s.kernels[kind], gpucore.Slot(slot))
			s.bound[kind][slot] = gpucore.InvalidID
		}
	}
}

// SetData stages new contents for the pair. pos and col must each hold
// exactly ElementCount records. The data is uploaded at the start of the
// next invocation; an invocation already running is not affected.
func (s *Sorter) SetData(pos, col []f32.Vec4) error {
	n := int(s.cfg.ElementCount)
	if len(pos) != n || len(col) != n {
		return configError("data length", fmt.Sprintf("%d/%d", len(pos), len(col)),
			"want %d positions and colors", n)
	}
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	// Checked under dataMu: Close clears the staged copy under the same lock.
	if s.State() == StateTearingDown {
		return ErrClosed
	}
	s.stagedPos = append(s.stagedPos[:0], pos...)
	s.stagedCol = append(s.stagedCol[:0], col...)
	s.dirty = true
	return nil
}

// Dirty reports whether staged data awaits upload.
func (s *Sorter) Dirty() bool {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	return s.dirty
}

// uploadIfDirty writes staged data to the primary pair.
func (s *Sorter) uploadIfDirty() error {
	s.dataMu.Lock()
	if !s.dirty {
		s.dataMu.Unlock()
		return nil
	}
	posBytes := gpucore.EncodeRecords(s.stagedPos)
	colBytes := gpucore.EncodeRecords(s.stagedCol)
	s.dirty = false
	s.dataMu.Unlock()

	p := s.sets[SetPrimary]
	if err := s.dev.WriteBuffer(p.pos, 0, posBytes); err != nil {
		s.markDirty()
		return fmt.Errorf("%w: upload positions: %w", ErrResourceUnavailable, err)
	}
	if err := s.dev.WriteBuffer(p.col, 0, colBytes); err != nil {
		s.markDirty()
		return fmt.Errorf("%w: upload colors: %w", ErrResourceUnavailable, err)
	}
	s.stats.uploads.Add(1)
	Logger().Debug("bitonic: uploaded staged data", "bytes", len(posBytes)+len(colBytes))
	return nil
}

func (s *Sorter) markDirty() {
	s.dataMu.Lock()
	s.dirty = true
	s.dataMu.Unlock()
}

// Snapshot reads both buffers of the primary pair back to the host. It
// waits for a running invocation and for pending device work.
func (s *Sorter) Snapshot() (pos, col []f32.Vec4, err error) {
	return s.readPair(SetPrimary)
}

// ReadSurface reads the published output surface, laid out row-major.
func (s *Sorter) ReadSurface() (pos, col []f32.Vec4, err error) {
	if !s.cfg.HasSurface() {
		return nil, nil, fmt.Errorf("%w: no surface configured", ErrInvalidConfig)
	}
	return s.readPair(SetSurface)
}

func (s *Sorter) readPair(set BufferSet) (pos, col []f32.Vec4, err error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.State() == StateTearingDown {
		return nil, nil, ErrClosed
	}
	p := s.sets[set]
	size := uint64(s.cfg.ElementCount) * gpucore.RecordSize

	pos = make([]f32.Vec4, s.cfg.ElementCount)
	col = make([]f32.Vec4, s.cfg.ElementCount)
	for _, r := range []struct {
		id  gpucore.BufferID
		dst []f32.Vec4
	}{{p.pos, pos}, {p.col, col}} {
		data, err := s.dev.ReadBuffer(r.id, 0, size)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: read back %s: %w", ErrResourceUnavailable, set, err)
		}
		if err := gpucore.DecodeRecords(r.dst, data); err != nil {
			return nil, nil, fmt.Errorf("%w: read back %s: %w", ErrResourceUnavailable, set, err)
		}
	}
	return pos, col, nil
}

// Close moves the sorter to StateTearingDown, waits for a running
// invocation to finish, and releases every device resource.
// Later invocations are dropped. Close is idempotent.
func (s *Sorter) Close() error {
	if State(s.state.Swap(int32(StateTearingDown))) == StateTearingDown {
		return nil
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.release()
	untrackDevice(s.dev)

	s.dataMu.Lock()
	s.stagedPos, s.stagedCol, s.dirty = nil, nil, false
	s.dataMu.Unlock()

	Logger().Info("bitonic: sorter closed",
		"completed", s.stats.completed.Load(),
		"dropped", s.stats.dropped.Load())
	return nil
}

// IsClosed reports whether Close has been called.
func (s *Sorter) IsClosed() bool { return s.State() == StateTearingDown }
