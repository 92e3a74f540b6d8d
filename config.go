package bitonic

import (
	"fmt"

	"github.com/gogpu/bitonic/gpucore"
)

// Default configuration values.
const (
	// DefaultElementCount is 512x512 records.
	DefaultElementCount = 512 * 512

	// DefaultBlockSize is the number of records sorted in one work group.
	DefaultBlockSize = 512

	// DefaultTileSize is the edge of a transpose tile.
	DefaultTileSize = 16

	// DefaultWorkgroupSize is the invocation count of the merge and publish
	// kernels.
	DefaultWorkgroupSize = 256
)

// Order is the fixed order convention of a Sorter.
type Order uint8

const (
	// Ascending sorts smallest key first.
	Ascending Order = iota

	// Descending sorts largest key first.
	Descending
)

func (o Order) String() string {
	switch o {
	case Ascending:
		return "ascending"
	case Descending:
		return "descending"
	default:
		return fmt.Sprintf("Order(%d)", uint8(o))
	}
}

// Component selects the record component used as the sort key.
// The zero value selects w.
type Component uint8

const (
	ComponentDefault Component = iota
	ComponentX
	ComponentY
	ComponentZ
	ComponentW
)

// index returns the record index of the component.
func (c Component) index() uint32 {
	if c == ComponentDefault {
		return 3
	}
	return uint32(c) - 1
}

func (c Component) String() string {
	switch c {
	case ComponentDefault, ComponentW:
		return "w"
	case ComponentX:
		return "x"
	case ComponentY:
		return "y"
	case ComponentZ:
		return "z"
	default:
		return fmt.Sprintf("Component(%d)", uint8(c))
	}
}

// Strategy selects how levels above the block size are processed.
type Strategy uint8

const (
	// StrategyAuto uses StrategyTranspose when its requirements hold and
	// StrategyMerge otherwise.
	StrategyAuto Strategy = iota

	// StrategyTranspose transposes the matrix so that columns become rows,
	// sorts them in local memory and transposes back. Requires
	// ElementCount <= BlockSize² and a tile size dividing both matrix
	// dimensions.
	StrategyTranspose

	// StrategyMerge runs one buffer-wide compare-exchange dispatch per
	// distance >= BlockSize. Works for every size.
	StrategyMerge
)

func (s Strategy) String() string {
	switch s {
	case StrategyAuto:
		return "auto"
	case StrategyTranspose:
		return "transpose"
	case StrategyMerge:
		return "merge"
	default:
		return fmt.Sprintf("Strategy(%d)", uint8(s))
	}
}

// ParseStrategy parses a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "auto":
		return StrategyAuto, nil
	case "transpose":
		return StrategyTranspose, nil
	case "merge":
		return StrategyMerge, nil
	}
	return 0, configError("strategy", s, "want auto, transpose or merge")
}

// Config configures a Sorter. Zero fields take their defaults.
type Config struct {
	// ElementCount is the number of records in each buffer.
	// Must be a power of two. Default DefaultElementCount.
	ElementCount uint32

	// BlockSize is the number of records one work group sorts in local
	// memory. Must be a power of two in [2, ElementCount].
	// Default min(DefaultBlockSize, ElementCount).
	BlockSize uint32

	// TileSize is the edge of a transpose tile. Must be a power of two.
	// Default DefaultTileSize, reduced to the largest power of two that
	// divides both matrix dimensions.
	TileSize uint32

	// WorkgroupSize is the invocation count of the merge and publish
	// kernels. Default DefaultWorkgroupSize.
	WorkgroupSize uint32

	// Key selects the record component compared. Default w.
	Key Component

	// Order is the fixed order of the sorted output.
	Order Order

	Strategy Strategy

	// SurfaceWidth and SurfaceHeight enable the output surface: after each
	// sort the ordered pair is published row-major into a
	// SurfaceWidth x SurfaceHeight surface. Both zero disables it.
	SurfaceWidth  uint32
	SurfaceHeight uint32
}

// MatrixWidth returns the width of the matrix view used by the transpose
// strategy.
func (c Config) MatrixWidth() uint32 { return c.BlockSize }

// MatrixHeight returns the height of the matrix view used by the transpose
// strategy.
func (c Config) MatrixHeight() uint32 { return c.ElementCount / c.BlockSize }

// HasSurface reports whether an output surface is configured.
func (c Config) HasSurface() bool { return c.SurfaceWidth != 0 || c.SurfaceHeight != 0 }

func isPow2(v uint32) bool { return v != 0 && v&(v-1) == 0 }

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.ElementCount == 0 {
		c.ElementCount = DefaultElementCount
	}
	if c.BlockSize == 0 {
		c.BlockSize = min(DefaultBlockSize, c.ElementCount)
	}
	if c.TileSize == 0 && isPow2(c.ElementCount) && isPow2(c.BlockSize) && c.BlockSize <= c.ElementCount {
		c.TileSize = min(DefaultTileSize, c.MatrixWidth(), c.MatrixHeight())
	}
	if c.WorkgroupSize == 0 {
		c.WorkgroupSize = DefaultWorkgroupSize
	}
	if c.Key == ComponentDefault {
		c.Key = ComponentW
	}
	return c
}

// transposeEligible reports why the transpose strategy cannot serve c, or
// nil when it can.
func (c Config) transposeEligible(limits gpucore.Limits) error {
	w, h := c.MatrixWidth(), c.MatrixHeight()
	switch {
	case h > w:
		return configError("strategy", StrategyTranspose,
			"%d records exceed BlockSize² = %d", c.ElementCount, uint64(w)*uint64(w))
	case !isPow2(c.TileSize):
		return configError("tile size", c.TileSize, "must be a power of two")
	case w%c.TileSize != 0 || h%c.TileSize != 0:
		return configError("tile size", c.TileSize, "must divide the %dx%d matrix", h, w)
	case c.TileSize*c.TileSize > limits.MaxWorkgroupInvocations:
		return configError("tile size", c.TileSize, "%d invocations exceed the device limit %d",
			c.TileSize*c.TileSize, limits.MaxWorkgroupInvocations)
	case c.TileSize*c.TileSize*2*gpucore.RecordSize > limits.MaxWorkgroupStorage:
		return configError("tile size", c.TileSize, "tile storage exceeds the device limit %d",
			limits.MaxWorkgroupStorage)
	}
	return nil
}

// Resolve applies defaults, validates the configuration against the device
// limits and replaces StrategyAuto by the strategy that will run.
func (c Config) Resolve(limits gpucore.Limits) (Config, error) {
	c = c.withDefaults()

	n, b := c.ElementCount, c.BlockSize
	if n < 2 || !isPow2(n) {
		return c, configError("element count", n, "must be a power of two >= 2")
	}
	if b < 2 || !isPow2(b) {
		return c, configError("block size", b, "must be a power of two >= 2")
	}
	if b > n {
		return c, configError("block size", b, "exceeds element count %d", n)
	}
	if b/2 > limits.MaxWorkgroupInvocations {
		return c, configError("block size", b, "%d invocations exceed the device limit %d",
			b/2, limits.MaxWorkgroupInvocations)
	}
	if b*2*gpucore.RecordSize > limits.MaxWorkgroupStorage {
		return c, configError("block size", b, "%d bytes of block storage exceed the device limit %d",
			b*2*gpucore.RecordSize, limits.MaxWorkgroupStorage)
	}
	if uint64(n)*gpucore.RecordSize > limits.MaxBufferSize {
		return c, configError("element count", n, "buffer of %d bytes exceeds the device limit %d",
			uint64(n)*gpucore.RecordSize, limits.MaxBufferSize)
	}
	if !isPow2(c.WorkgroupSize) || c.WorkgroupSize > limits.MaxWorkgroupInvocations {
		return c, configError("workgroup size", c.WorkgroupSize,
			"must be a power of two <= %d", limits.MaxWorkgroupInvocations)
	}
	if c.Key > ComponentW {
		return c, configError("key", c.Key, "unknown component")
	}
	if c.Order > Descending {
		return c, configError("order", c.Order, "unknown order")
	}
	if c.HasSurface() && uint64(c.SurfaceWidth)*uint64(c.SurfaceHeight) != uint64(n) {
		return c, configError("surface", fmt.Sprintf("%dx%d", c.SurfaceWidth, c.SurfaceHeight),
			"must hold exactly %d records", n)
	}

	switch c.Strategy {
	case StrategyAuto:
		c.Strategy = StrategyMerge
		if c.transposeEligible(limits) == nil {
			c.Strategy = StrategyTranspose
		}
	case StrategyTranspose:
		if err := c.transposeEligible(limits); err != nil {
			return c, err
		}
	case StrategyMerge:
	default:
		return c, configError("strategy", c.Strategy, "unknown strategy")
	}
	return c, nil
}
