package gpucore

import "fmt"

// Resource IDs
//
// These opaque IDs represent device resources. Each device implementation
// maintains a mapping between IDs and actual backend resources.

// BufferID is an opaque handle to an element buffer.
type BufferID uint64

// ViewID is an opaque handle to a read/write view over a buffer.
type ViewID uint64

// KernelID is an opaque handle to a compiled compute kernel.
type KernelID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// BufferUsage is a bitmask specifying how a buffer will be used.
type BufferUsage uint32

// Buffer usage flags.
const (
	// BufferUsageStorage indicates the buffer can be bound as a storage view.
	BufferUsageStorage BufferUsage = 1 << 0

	// BufferUsageCopySrc indicates the buffer can be read back.
	BufferUsageCopySrc BufferUsage = 1 << 1

	// BufferUsageCopyDst indicates the buffer can be written from the host.
	BufferUsageCopyDst BufferUsage = 1 << 2

	// BufferUsageUnordered marks a buffer that is written through views from
	// several invocations at once (the UAV flag of other APIs).
	BufferUsageUnordered BufferUsage = 1 << 3
)

// Has reports whether all bits of flag are set.
func (u BufferUsage) Has(flag BufferUsage) bool { return u&flag == flag }

// BufferDesc describes an element buffer.
type BufferDesc struct {
	Label string

	// Stride is the size of one element in bytes.
	Stride uint32

	// Count is the number of elements.
	Count uint32

	Usage BufferUsage
}

// Size returns the buffer size in bytes.
func (d BufferDesc) Size() uint64 { return uint64(d.Stride) * uint64(d.Count) }

// KernelKind identifies the compute stage a kernel implements.
type KernelKind uint8

const (
	// KernelSort sorts each block of BlockSize consecutive records in local
	// memory. Params.Level is the bitonic level, Params.LevelMask selects the
	// direction of each block.
	KernelSort KernelKind = iota

	// KernelTranspose transposes a Height x Width row-major matrix into a
	// Width x Height one through TileSize x TileSize local tiles.
	KernelTranspose

	// KernelMerge performs one buffer-wide compare-exchange step.
	// Params.Level is the partner distance, Params.LevelMask the bitonic level.
	KernelMerge

	// KernelPublish copies the sorted pair into the output surface.
	KernelPublish

	kernelKindCount
)

var kernelKindNames = [kernelKindCount]string{
	KernelSort:      "sort",
	KernelTranspose: "transpose",
	KernelMerge:     "merge",
	KernelPublish:   "publish",
}

// String returns the kernel kind name.
func (k KernelKind) String() string {
	if k < kernelKindCount {
		return kernelKindNames[k]
	}
	return fmt.Sprintf("KernelKind(%d)", uint8(k))
}

// Slot is a binding slot of a kernel.
type Slot uint8

// Binding slots.
const (
	SlotPosition Slot = iota
	SlotColor
	SlotPositionOut
	SlotColorOut

	// SlotCount is the number of slots of the widest kernel.
	SlotCount
)

// Slots returns the slots used by the kernel kind.
func (k KernelKind) Slots() []Slot {
	switch k {
	case KernelTranspose, KernelPublish:
		return []Slot{SlotPosition, SlotColor, SlotPositionOut, SlotColorOut}
	default:
		return []Slot{SlotPosition, SlotColor}
	}
}

// Params is the per-dispatch parameter block.
// Must match struct Params in the WGSL kernels.
type Params struct {
	Level     uint32
	LevelMask uint32
	Width     uint32
	Height    uint32
}

// ParamsSize is the size of Params in bytes.
const ParamsSize = 16

// KernelDesc describes a kernel. All fields are baked into the kernel at
// creation time.
type KernelDesc struct {
	Label string
	Kind  KernelKind

	// ElementCount is the number of records in each bound buffer.
	ElementCount uint32

	// BlockSize is the number of records sorted by one work group
	// (KernelSort only).
	BlockSize uint32

	// TileSize is the edge of a square transpose tile (KernelTranspose only).
	TileSize uint32

	// WorkgroupSize is the number of invocations per work group for the
	// one-dimensional kernels. KernelSort always uses BlockSize/2 and
	// KernelTranspose TileSize*TileSize.
	WorkgroupSize uint32

	// KeyComponent selects the record component compared (0=x … 3=w).
	KeyComponent uint32

	// Descending reverses the fixed order convention.
	Descending bool
}

// Invocations returns the number of invocations in one work group.
func (d KernelDesc) Invocations() uint32 {
	switch d.Kind {
	case KernelSort:
		return d.BlockSize / 2
	case KernelTranspose:
		return d.TileSize * d.TileSize
	default:
		return d.WorkgroupSize
	}
}

// SharedBytes returns the local memory used by one work group.
func (d KernelDesc) SharedBytes() uint32 {
	switch d.Kind {
	case KernelSort:
		return d.BlockSize * 2 * RecordSize
	case KernelTranspose:
		return d.TileSize * d.TileSize * 2 * RecordSize
	default:
		return 0
	}
}

// Limits describes device limits relevant to the sorter.
type Limits struct {
	// MaxWorkgroupInvocations is the maximum number of invocations in one
	// work group.
	MaxWorkgroupInvocations uint32

	// MaxWorkgroupStorage is the maximum local memory of one work group in bytes.
	MaxWorkgroupStorage uint32

	// MaxWorkgroupsPerDimension is the maximum dispatch size in one dimension.
	MaxWorkgroupsPerDimension uint32

	// MaxBufferSize is the maximum buffer size in bytes.
	MaxBufferSize uint64
}

// DefaultLimits returns the WebGPU default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxWorkgroupInvocations:   256,
		MaxWorkgroupStorage:       16384,
		MaxWorkgroupsPerDimension: 65535,
		MaxBufferSize:             256 << 20,
	}
}

// CheckKernel validates a kernel description against the limits.
func (l Limits) CheckKernel(d KernelDesc) error {
	if n := d.Invocations(); n == 0 || n > l.MaxWorkgroupInvocations {
		return fmt.Errorf("%w: %s kernel needs %d invocations per work group, limit is %d",
			ErrUnsupported, d.Kind, n, l.MaxWorkgroupInvocations)
	}
	if s := d.SharedBytes(); s > l.MaxWorkgroupStorage {
		return fmt.Errorf("%w: %s kernel needs %d bytes of work group storage, limit is %d",
			ErrUnsupported, d.Kind, s, l.MaxWorkgroupStorage)
	}
	if d.KeyComponent > 3 {
		return fmt.Errorf("%w: key component %d out of range", ErrUnsupported, d.KeyComponent)
	}
	return nil
}
