package cook

import (
	"encoding/json"
	"log/slog"
	"path/filepath"
	"sync"

	"kiln/internal/asyncio"
	"kiln/internal/cas"
	"kiln/internal/logging"
	"kiln/internal/plan"
)

// Data file names shared by all resources of a kind under the output root.
const (
	TextureDataFile = "textures.kcd"
	BufferDataFile  = "buffers.kcd"
)

// TextureDescriptor is the table entry for an emitted texture resource. Its
// defining fields feed the content signature; the content hash lives in the
// payload header and is excluded.
type TextureDescriptor struct {
	Width      uint32 `json:"width"`
	Height     uint32 `json:"height"`
	MipCount   uint32 `json:"mip_count"`
	Format     string `json:"format"`
	ColorSpace string `json:"color_space"`
	Intent     string `json:"intent"`
}

// BufferDescriptor is the table entry for an emitted buffer resource.
type BufferDescriptor struct {
	UncompressedSize uint32      `json:"uncompressed_size"`
	StoredSize       uint32      `json:"stored_size"`
	Compression      Compression `json:"compression"`
}

// Environment bundles everything cookers share: the per-kind aggregators,
// the async writer, output locations, and the cross-item result registry.
type Environment struct {
	Textures *cas.Aggregator
	Buffers  *cas.Aggregator
	Writer   *asyncio.Writer
	Registry *Registry

	OutputRoot string
	Packing    cas.PackingPolicy
	Logger     *slog.Logger

	fallbackWrite   sync.Once
	fallbackPayload []byte
}

// NewEnvironment wires a cooking environment over an output root.
func NewEnvironment(outputRoot string, alignment int64, packing cas.PackingPolicy, writer *asyncio.Writer, logger *slog.Logger) *Environment {
	env := &Environment{
		Writer:     writer,
		Registry:   NewRegistry(),
		OutputRoot: outputRoot,
		Packing:    packing,
		Logger:     logging.NewComponentLogger(logger, "cook"),
	}
	env.Textures = cas.NewAggregator(alignment, env.fallbackTextureFactory)
	env.Buffers = cas.NewAggregator(alignment, nil)
	return env
}

// Cookers returns the kind→cooker map the dispatcher wires stages from.
func Cookers(env *Environment) map[plan.Kind]Cooker {
	return map[plan.Kind]Cooker{
		plan.KindTextureResource: &TextureCooker{env: env},
		plan.KindBufferResource:  &BufferCooker{env: env},
		plan.KindMaterialAsset:   &MaterialCooker{env: env},
		plan.KindMeshBuild:       &MeshBuildCooker{env: env},
		plan.KindGeometryAsset:   &GeometryCooker{env: env},
		plan.KindSceneAsset:      &SceneCooker{env: env},
	}
}

func (env *Environment) texturePath() string {
	return filepath.Join(env.OutputRoot, TextureDataFile)
}

func (env *Environment) bufferPath() string {
	return filepath.Join(env.OutputRoot, BufferDataFile)
}

func dataFileOptions() asyncio.Options {
	return asyncio.Options{CreateDirectories: true, Overwrite: true, ShareWrite: true}
}

// DecodeTextureDescriptor rehydrates a catalog-stored texture descriptor.
func DecodeTextureDescriptor(data []byte) (any, error) {
	var descriptor TextureDescriptor
	if err := json.Unmarshal(data, &descriptor); err != nil {
		return nil, err
	}
	return descriptor, nil
}

// DecodeBufferDescriptor rehydrates a catalog-stored buffer descriptor.
func DecodeBufferDescriptor(data []byte) (any, error) {
	var descriptor BufferDescriptor
	if err := json.Unmarshal(data, &descriptor); err != nil {
		return nil, err
	}
	return descriptor, nil
}

// emitTexture inserts the payload into the texture table and, on a winning
// reservation, schedules the write into the shared texture data file.
func (env *Environment) emitTexture(sig cas.Signature, descriptor TextureDescriptor, payload []byte) (*cas.Entry, bool, error) {
	// The placeholder goes out ahead of any user content.
	if _, err := env.FallbackTexture(); err != nil {
		return nil, false, err
	}
	entry, isNew, err := env.Textures.AcquireOrInsert(sig, func() (any, int64, error) {
		return descriptor, int64(len(payload)), nil
	})
	if err != nil {
		return nil, false, err
	}
	if isNew {
		env.writeAt(env.texturePath(), entry.Reservation.AlignedOffset, payload)
	}
	return entry, isNew, nil
}

// emitBuffer inserts the payload into the buffer table and, on a winning
// reservation, schedules the write into the shared buffer data file.
func (env *Environment) emitBuffer(sig cas.Signature, descriptor BufferDescriptor, payload []byte) (*cas.Entry, bool, error) {
	entry, isNew, err := env.Buffers.AcquireOrInsert(sig, func() (any, int64, error) {
		return descriptor, int64(len(payload)), nil
	})
	if err != nil {
		return nil, false, err
	}
	if isNew {
		env.writeAt(env.bufferPath(), entry.Reservation.AlignedOffset, payload)
	}
	return entry, isNew, nil
}

func (env *Environment) writeAt(path string, offset int64, payload []byte) {
	env.Writer.WriteAtAsync(path, offset, payload, dataFileOptions(), func(err error) {
		if err != nil {
			env.Logger.Error("payload write failed",
				logging.String("path", path),
				logging.Int64("offset", offset),
				logging.Error(err),
			)
		}
	})
}

// fallbackTextureFactory builds the placeholder resource degraded references
// resolve to: a 1×1 white texel.
func (env *Environment) fallbackTextureFactory() (any, int64, error) {
	payload, err := cas.EncodePayload(env.Packing, 0, []cas.SubresourceLayout{
		{OffsetBytes: 0, RowPitchBytes: 4, SizeBytes: 4},
	}, []byte{0xFF, 0xFF, 0xFF, 0xFF})
	if err != nil {
		return nil, 0, err
	}
	env.fallbackPayload = payload
	return TextureDescriptor{
		Width:      1,
		Height:     1,
		MipCount:   1,
		Format:     "rgba8",
		ColorSpace: "linear",
		Intent:     "data",
	}, int64(len(payload)), nil
}

// FallbackTexture returns the placeholder entry, emitting and writing it on
// first use.
func (env *Environment) FallbackTexture() (*cas.Entry, error) {
	entry, err := env.Textures.Fallback()
	if err != nil {
		return nil, err
	}
	env.fallbackWrite.Do(func() {
		// A fallback restored from the catalog is already on disk; only a
		// freshly built payload needs writing.
		if len(env.fallbackPayload) > 0 {
			env.writeAt(env.texturePath(), entry.Reservation.AlignedOffset, env.fallbackPayload)
		}
	})
	return entry, nil
}
