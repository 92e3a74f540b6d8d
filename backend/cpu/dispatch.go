package cpu

import (
	"fmt"

	"golang.org/x/image/math/f32"

	"github.com/gogpu/bitonic/gpucore"
	"github.com/gogpu/bitonic/kernel"
)

// minMergeBatch is the smallest number of merge invocations handed to one
// pool task; a single compare-exchange is far cheaper than a task switch.
const minMergeBatch = 2048

// resolve returns the record slices bound to the kernel slots.
func (d *Device) resolve(ks *kernelState) ([gpucore.SlotCount][]f32.Vec4, [gpucore.SlotCount]gpucore.BufferID, error) {
	var data [gpucore.SlotCount][]f32.Vec4
	var ids [gpucore.SlotCount]gpucore.BufferID
	for _, slot := range ks.desc.Kind.Slots() {
		view := ks.bindings[slot]
		if view == gpucore.InvalidID {
			return data, ids, fmt.Errorf("%w: %s slot %d", gpucore.ErrUnbound, ks.desc.Kind, slot)
		}
		bufID, ok := d.views[view]
		if !ok {
			return data, ids, fmt.Errorf("%w: view %d", gpucore.ErrUnknownResource, view)
		}
		b := d.buffers[bufID]
		if uint32(len(b.data)) < ks.desc.ElementCount {
			return data, ids, fmt.Errorf("%w: buffer %q holds %d records, kernel needs %d",
				gpucore.ErrOutOfRange, b.desc.Label, len(b.data), ks.desc.ElementCount)
		}
		data[slot] = b.data[:ks.desc.ElementCount]
		ids[slot] = bufID
	}
	return data, ids, nil
}

// Dispatch runs x*y*z work groups of the kernel and returns when they are done.
func (d *Device) Dispatch(k gpucore.KernelID, p gpucore.Params, x, y, z uint32) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return gpucore.ErrDeviceClosed
	}
	ks, ok := d.kernels[k]
	if !ok {
		return fmt.Errorf("%w: kernel %d", gpucore.ErrUnknownResource, k)
	}
	bound, ids, err := d.resolve(ks)
	if err != nil {
		return err
	}
	if d.hook != nil {
		if err := d.hook(ks.desc.Kind, p, x, y, z); err != nil {
			return fmt.Errorf("cpu: %s dispatch: %w", ks.desc.Kind, err)
		}
	}

	desc := ks.desc
	cmp := kernel.Compare{Key: desc.KeyComponent, Descending: desc.Descending}
	pos, col := bound[gpucore.SlotPosition], bound[gpucore.SlotColor]
	groups := int(x) * int(y) * int(z)

	switch desc.Kind {
	case gpucore.KernelSort:
		blocks := min(groups, int(desc.ElementCount/desc.BlockSize))
		d.pool.ForEachGroup(blocks, 1, func(first, last int) {
			for g := first; g < last; g++ {
				kernel.SortBlock(pos, col, uint32(g)*desc.BlockSize, desc.BlockSize, p, cmp)
			}
		})

	case gpucore.KernelTranspose:
		if ids[gpucore.SlotPosition] == ids[gpucore.SlotPositionOut] ||
			ids[gpucore.SlotColor] == ids[gpucore.SlotColorOut] {
			return fmt.Errorf("%w: transpose input and output alias the same buffer", gpucore.ErrUnsupported)
		}
		if p.Width*p.Height != desc.ElementCount {
			return fmt.Errorf("%w: %dx%d matrix over %d records", gpucore.ErrOutOfRange, p.Width, p.Height, desc.ElementCount)
		}
		outPos, outCol := bound[gpucore.SlotPositionOut], bound[gpucore.SlotColorOut]
		tiles := int(x) * int(y)
		d.pool.ForEachGroup(tiles, 1, func(first, last int) {
			for g := first; g < last; g++ {
				tx, ty := uint32(g)%x, uint32(g)/x
				kernel.TransposeTile(pos, col, outPos, outCol, tx, ty, desc.TileSize, p)
			}
		})

	case gpucore.KernelMerge:
		invocations := min(groups*int(desc.WorkgroupSize), int(desc.ElementCount/2))
		d.pool.ForEachGroup(invocations, minMergeBatch, func(first, last int) {
			for t := first; t < last; t++ {
				kernel.MergeStep(pos, col, uint32(t), p, cmp)
			}
		})

	case gpucore.KernelPublish:
		outPos, outCol := bound[gpucore.SlotPositionOut], bound[gpucore.SlotColorOut]
		wg := desc.WorkgroupSize
		d.pool.ForEachGroup(groups, 1, func(first, last int) {
			kernel.Publish(pos, col, outPos, outCol, uint32(first)*wg, uint32(last-first)*wg)
		})

	default:
		return fmt.Errorf("%w: kernel kind %s", gpucore.ErrUnsupported, desc.Kind)
	}

	d.dispatches.Add(1)
	return nil
}
