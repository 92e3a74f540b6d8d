package bitonic

import (
	"fmt"

	"github.com/gogpu/bitonic/gpucore"
)

// BufferSet names one of the buffer pairs owned by a Sorter.
type BufferSet uint8

const (
	// SetPrimary is the position/color pair holding the data.
	SetPrimary BufferSet = iota

	// SetScratch receives the transposed matrix.
	SetScratch

	// SetSurface is the published output surface.
	SetSurface

	setCount
)

func (s BufferSet) String() string {
	switch s {
	case SetPrimary:
		return "primary"
	case SetScratch:
		return "scratch"
	case SetSurface:
		return "surface"
	default:
		return fmt.Sprintf("BufferSet(%d)", uint8(s))
	}
}

// Pass is one dispatch of the pass sequence.
type Pass struct {
	Kind   gpucore.KernelKind
	Params gpucore.Params

	// Src is the pair the kernel reads (and, for sort and merge, writes).
	Src BufferSet

	// Dst is the pair a transpose or publish writes. Unused otherwise.
	Dst BufferSet

	// Groups is the dispatch size.
	X, Y uint32

	// Level is the bitonic level the pass belongs to.
	Level uint32
}

func (p Pass) String() string {
	switch p.Kind {
	case gpucore.KernelTranspose, gpucore.KernelPublish:
		return fmt.Sprintf("%s %s->%s level=%d %dx%d", p.Kind, p.Src, p.Dst, p.Level, p.Params.Width, p.Params.Height)
	default:
		return fmt.Sprintf("%s %s level=%d (%d, mask %d)", p.Kind, p.Src, p.Level, p.Params.Level, p.Params.LevelMask)
	}
}

// Plan returns the pass sequence of a configuration on a device with the
// given limits. The configuration is resolved first; see Config.Resolve.
//
// The sequence is:
//
//  1. For level = 2 … BlockSize, a sort pass with LevelMask = level.
//  2. For level = 2·BlockSize … ElementCount, either
//     transpose, sort, transpose back, sort (StrategyTranspose), or
//     one merge pass per distance level/2 … BlockSize followed by a sort
//     pass (StrategyMerge).
//  3. A publish pass when a surface is configured.
func Plan(cfg Config, limits gpucore.Limits) ([]Pass, error) {
	cfg, err := cfg.Resolve(limits)
	if err != nil {
		return nil, err
	}
	return buildPlan(cfg, limits), nil
}

// buildPlan expands a resolved configuration.
func buildPlan(cfg Config, limits gpucore.Limits) []Pass {
	n, b, t := cfg.ElementCount, cfg.BlockSize, cfg.TileSize
	w, h := cfg.MatrixWidth(), cfg.MatrixHeight()
	maxDim := limits.MaxWorkgroupsPerDimension

	sortX, sortY := gpucore.SplitGroups(n/b, maxDim)
	sortPass := func(set BufferSet, level, levelMask, stage uint32) Pass {
		return Pass{
			Kind:   gpucore.KernelSort,
			Params: gpucore.Params{Level: level, LevelMask: levelMask, Width: h, Height: w},
			Src:    set,
			X:      sortX, Y: sortY,
			Level: stage,
		}
	}

	var passes []Pass
	for level := uint32(2); level <= b; level <<= 1 {
		passes = append(passes, sortPass(SetPrimary, level, level, level))
	}

	for level := 2 * b; level <= n && level != 0; level <<= 1 {
		switch cfg.Strategy {
		case StrategyTranspose:
			// Columns of the h x w matrix become rows of the w x h one. A
			// compare at distance j >= b in the data is a compare at distance
			// j/b in a transposed row.
			colParams := gpucore.Params{Level: level / b, LevelMask: (level &^ n) / b, Width: w, Height: h}
			passes = append(passes,
				Pass{
					Kind: gpucore.KernelTranspose, Params: colParams,
					Src: SetPrimary, Dst: SetScratch,
					X: w / t, Y: h / t, Level: level,
				},
				Pass{
					Kind: gpucore.KernelSort, Params: colParams,
					Src: SetScratch, X: sortX, Y: sortY, Level: level,
				},
			)
			rowParams := gpucore.Params{Level: b, LevelMask: level, Width: h, Height: w}
			passes = append(passes,
				Pass{
					Kind: gpucore.KernelTranspose, Params: rowParams,
					Src: SetScratch, Dst: SetPrimary,
					X: h / t, Y: w / t, Level: level,
				},
				Pass{
					Kind: gpucore.KernelSort, Params: rowParams,
					Src: SetPrimary, X: sortX, Y: sortY, Level: level,
				},
			)

		default:
			mx, my := gpucore.SplitGroups(gpucore.CeilDiv(n/2, cfg.WorkgroupSize), maxDim)
			for j := level >> 1; j >= b; j >>= 1 {
				passes = append(passes, Pass{
					Kind:   gpucore.KernelMerge,
					Params: gpucore.Params{Level: j, LevelMask: level, Width: w, Height: h},
					Src:    SetPrimary,
					X:      mx, Y: my,
					Level: level,
				})
			}
			passes = append(passes, sortPass(SetPrimary, b, level, level))
		}
	}

	if cfg.HasSurface() {
		px, py := gpucore.SplitGroups(gpucore.CeilDiv(n, cfg.WorkgroupSize), maxDim)
		passes = append(passes, Pass{
			Kind:   gpucore.KernelPublish,
			Params: gpucore.Params{Width: cfg.SurfaceWidth, Height: cfg.SurfaceHeight},
			Src:    SetPrimary, Dst: SetSurface,
			X: px, Y: py,
			Level: n,
		})
	}
	return passes
}

// usesKernel reports whether any pass dispatches the kernel kind.
func usesKernel(passes []Pass, kind gpucore.KernelKind) bool {
	for _, p := range passes {
		if p.Kind == kind {
			return true
		}
	}
	return false
}

// usesSet reports whether any pass reads or writes the buffer set.
func usesSet(passes []Pass, set BufferSet) bool {
	for _, p := range passes {
		if p.Src == set {
			return true
		}
		if (p.Kind == gpucore.KernelTranspose || p.Kind == gpucore.KernelPublish) && p.Dst == set {
			return true
		}
	}
	return false
}
