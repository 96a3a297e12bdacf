package cook

// TexturePayload describes one texture resource to cook.
type TexturePayload struct {
	// Source is the image file on disk.
	Source string
	// Intent describes how the texture is sampled: albedo, normal, data.
	Intent string
	// ColorSpace is srgb or linear.
	ColorSpace string
	// MipPolicy is "full" for a complete chain or "none".
	MipPolicy string
	// MipFilter selects the downsample filter; only "box" is implemented.
	MipFilter string
	// ContentFlags are caller-defined bits carried into the payload header.
	ContentFlags uint8
}

// BufferPayload describes one raw blob resource to cook.
type BufferPayload struct {
	// Data is the blob. When nil, Source is read instead.
	Data   []byte
	Source string
	// Compression is the codec applied before emission.
	Compression Compression
}

// MaterialTextureRef binds a material slot to a texture plan item.
type MaterialTextureRef struct {
	Slot string
	// Item is the producing texture plan item's name.
	Item string
}

// MaterialPayload describes one material asset.
type MaterialPayload struct {
	Textures []MaterialTextureRef
	Scalars  map[string]float64
}

// MeshTag discriminates mesh descriptor variants.
type MeshTag uint8

const (
	MeshStatic MeshTag = iota + 1
	MeshSkinned
)

// MeshVariant is the tagged sum over mesh descriptor shapes. The active
// variant is statically known wherever it is read.
type MeshVariant interface {
	Tag() MeshTag
}

// StaticMesh is the variant for rigid geometry.
type StaticMesh struct {
	VertexCount uint32
	IndexCount  uint32
	// VertexStride is bytes per vertex in the packed vertex blob.
	VertexStride uint32
}

func (StaticMesh) Tag() MeshTag { return MeshStatic }

// SkinnedMesh is the variant for skeletal geometry.
type SkinnedMesh struct {
	VertexCount  uint32
	IndexCount   uint32
	VertexStride uint32
	BoneCount    uint32
	// InfluencesPerVertex is the fixed skinning width.
	InfluencesPerVertex uint8
}

func (SkinnedMesh) Tag() MeshTag { return MeshSkinned }

// MeshBuildPayload describes one mesh-build item: interleave raw attribute
// streams into packed vertex/index blobs.
type MeshBuildPayload struct {
	Positions []float32 // xyz triplets
	Normals   []float32 // xyz triplets, optional
	UVs       []float32 // uv pairs, optional
	Indices   []uint32
	// BoneWeights/BoneIndices switch the build to the skinned variant.
	BoneWeights []float32
	BoneIndices []uint8
	BoneCount   uint32
}

// MeshBuildOutput is the in-memory product of a mesh build, consumed by the
// geometry cooker.
type MeshBuildOutput struct {
	Variant    MeshVariant
	VertexBlob []byte
	IndexBlob  []byte
}

// GeometryPayload describes one geometry asset referencing a mesh build.
type GeometryPayload struct {
	// MeshItem is the producing mesh-build plan item's name.
	MeshItem string
	// Compression applies to the emitted vertex/index buffers.
	Compression Compression
}

// SceneNode is one node of a scene payload.
type SceneNode struct {
	Name     string
	Parent   int // index into Nodes; -1 for roots
	Geometry string
	Material string
}

// ScenePayload describes one scene asset.
type ScenePayload struct {
	Nodes []SceneNode
	// PruneEmptyNodes drops leaf nodes with no geometry and no children.
	PruneEmptyNodes bool
}
