//go:build !nogpu

package native

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"

	"github.com/gogpu/bitonic/gpucore"
)

// Kernel sources are WGSL templates sharing the "common" definitions.

//go:embed shaders/common.wgsl
var commonShaderWGSL string

//go:embed shaders/sort.wgsl
var sortShaderWGSL string

//go:embed shaders/transpose.wgsl
var transposeShaderWGSL string

//go:embed shaders/merge.wgsl
var mergeShaderWGSL string

//go:embed shaders/publish.wgsl
var publishShaderWGSL string

var shaderTemplates *template.Template

func init() {
	shaderTemplates = template.Must(template.New("shaders").Parse(commonShaderWGSL))
	for _, kind := range []gpucore.KernelKind{
		gpucore.KernelSort, gpucore.KernelTranspose, gpucore.KernelMerge, gpucore.KernelPublish,
	} {
		shaderTemplates = template.Must(shaderTemplates.New(kind.String()).Parse(shaderTemplateSource(kind)))
	}
}

func shaderTemplateSource(kind gpucore.KernelKind) string {
	switch kind {
	case gpucore.KernelSort:
		return sortShaderWGSL
	case gpucore.KernelTranspose:
		return transposeShaderWGSL
	case gpucore.KernelMerge:
		return mergeShaderWGSL
	default:
		return publishShaderWGSL
	}
}

// shaderSettings are the compile-time constants of a kernel.
type shaderSettings struct {
	ElementCount  uint32
	Block         uint32
	HalfBlock     uint32
	BlockCount    uint32
	Tile          uint32
	TileArea      uint32
	WorkgroupSize uint32
	Key           string
	Descending    bool
}

var componentNames = [4]string{"x", "y", "z", "w"}

func settingsFor(desc gpucore.KernelDesc) (shaderSettings, error) {
	if desc.KeyComponent >= uint32(len(componentNames)) {
		return shaderSettings{}, fmt.Errorf("%w: key component %d", gpucore.ErrUnsupported, desc.KeyComponent)
	}
	if desc.BlockSize < 2 || desc.ElementCount%desc.BlockSize != 0 {
		return shaderSettings{}, fmt.Errorf("%w: block size %d over %d records",
			gpucore.ErrUnsupported, desc.BlockSize, desc.ElementCount)
	}
	return shaderSettings{
		ElementCount:  desc.ElementCount,
		Block:         desc.BlockSize,
		HalfBlock:     desc.BlockSize / 2,
		BlockCount:    desc.ElementCount / desc.BlockSize,
		Tile:          max(desc.TileSize, 1),
		TileArea:      max(desc.TileSize*desc.TileSize, 1),
		WorkgroupSize: max(desc.WorkgroupSize, 1),
		Key:           componentNames[desc.KeyComponent],
		Descending:    desc.Descending,
	}, nil
}

// ShaderSource returns the WGSL source of a kernel.
func ShaderSource(desc gpucore.KernelDesc) (string, error) {
	settings, err := settingsFor(desc)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := shaderTemplates.ExecuteTemplate(&buf, desc.Kind.String(), settings); err != nil {
		return "", fmt.Errorf("render %s shader: %w", desc.Kind, err)
	}
	return buf.String(), nil
}

// compileShader compiles WGSL to SPIR-V words.
func compileShader(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to compile shader: %w", err)
	}

	// SPIR-V is little-endian 32-bit words
	spirvCode := make([]uint32, len(spirvBytes)/4)
	for i := range spirvCode {
		spirvCode[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return spirvCode, nil
}

// bindingLayout returns the bind group layout entries of a kernel kind:
// binding 0 is the params uniform, slot s is binding s+1.
func bindingLayout(kind gpucore.KernelKind) []gputypes.BindGroupLayoutEntry {
	entry := func(binding uint32, t gputypes.BufferBindingType) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: t},
		}
	}
	entries := []gputypes.BindGroupLayoutEntry{entry(0, gputypes.BufferBindingTypeUniform)}
	for _, slot := range kind.Slots() {
		t := gputypes.BufferBindingTypeStorage
		if slot == gpucore.SlotPosition || slot == gpucore.SlotColor {
			if kind == gpucore.KernelTranspose || kind == gpucore.KernelPublish {
				t = gputypes.BufferBindingTypeReadOnlyStorage
			}
		}
		entries = append(entries, entry(uint32(slot)+1, t))
	}
	return entries
}
