// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package kernel holds the index arithmetic of the bitonic network and host
// implementations of the compute stages.
//
// Each host kernel processes exactly the elements one GPU work group (or one
// invocation, for [MergeStep]) touches, so a device can run them in parallel
// over disjoint ranges and obtain the same result as the WGSL kernels.
package kernel

import (
	"golang.org/x/image/math/f32"

	"github.com/gogpu/bitonic/gpucore"
)

// Compare describes how records are ordered.
type Compare struct {
	// Key is the record component compared (0=x … 3=w).
	Key uint32

	// Descending reverses the fixed order convention.
	Descending bool
}

// Partner returns the element index compared with index at distance j.
func Partner(index, j uint32) uint32 {
	return index ^ j
}

// PairIndices returns the pair handled by invocation t at distance j.
// j must be a power of two. Invocations 0..n/2-1 cover every index in 0..n-1
// exactly once.
func PairIndices(t, j uint32) (lo, hi uint32) {
	lo = 2*t - (t & (j - 1))
	return lo, lo | j
}

// Ascending reports whether the segment containing index is sorted
// ascending at the level selected by levelMask.
func Ascending(index, levelMask uint32, descending bool) bool {
	return (index&levelMask == 0) != descending
}

// TransposeIndex maps index in a height x width row-major matrix to its
// position in the width x height transpose.
func TransposeIndex(index, width, height uint32) uint32 {
	y, x := index/width, index%width
	return x*height + y
}

// exchange orders pos[lo], pos[hi] and mirrors the swap on col.
func exchange(pos, col []f32.Vec4, lo, hi uint32, asc bool, key uint32) {
	a, b := pos[lo][key], pos[hi][key]
	if (asc && a > b) || (!asc && a < b) {
		pos[lo], pos[hi] = pos[hi], pos[lo]
		col[lo], col[hi] = col[hi], col[lo]
	}
}

// SortBlock runs one Sort work group on the block starting at base.
// For j = min(p.Level, block)/2 … 1 every pair at distance j inside the block is
// compare-exchanged, the direction taken from the global index and
// p.LevelMask.
func SortBlock(pos, col []f32.Vec4, base, block uint32, p gpucore.Params, cmp Compare) {
	bp := pos[base : base+block]
	bc := col[base : base+block]
	half := block / 2
	for j := min(p.Level, block) >> 1; j > 0; j >>= 1 {
		for t := range half {
			lo, hi := PairIndices(t, j)
			exchange(bp, bc, lo, hi, Ascending(base+lo, p.LevelMask, cmp.Descending), cmp.Key)
		}
	}
}

// TransposeTile runs one Transpose work group: the tile x tile block at tile
// coordinates (tx, ty) of the p.Height x p.Width source is written to the
// p.Width x p.Height destination.
func TransposeTile(srcPos, srcCol, dstPos, dstCol []f32.Vec4, tx, ty, tile uint32, p gpucore.Params) {
	for ly := range tile {
		y := ty*tile + ly
		if y >= p.Height {
			return
		}
		for lx := range tile {
			x := tx*tile + lx
			if x >= p.Width {
				break
			}
			src := y*p.Width + x
			dst := x*p.Height + y
			dstPos[dst] = srcPos[src]
			dstCol[dst] = srcCol[src]
		}
	}
}

// MergeStep runs one Merge invocation: the pair of invocation t at distance
// p.Level is compare-exchanged in the direction given by p.LevelMask.
func MergeStep(pos, col []f32.Vec4, t uint32, p gpucore.Params, cmp Compare) {
	lo, hi := PairIndices(t, p.Level)
	if int(hi) >= len(pos) {
		return
	}
	exchange(pos, col, lo, hi, Ascending(lo, p.LevelMask, cmp.Descending), cmp.Key)
}

// Publish copies records first..first+count of the sorted pair into the
// output surface.
func Publish(srcPos, srcCol, dstPos, dstCol []f32.Vec4, first, count uint32) {
	end := min(first+count, uint32(len(srcPos)))
	if first >= end {
		return
	}
	copy(dstPos[first:end], srcPos[first:end])
	copy(dstCol[first:end], srcCol[first:end])
}
