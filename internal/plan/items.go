package plan

// Kind identifies the type of work a plan item represents.
type Kind int

const (
	KindTextureResource Kind = iota
	KindBufferResource
	KindMaterialAsset
	KindMeshBuild
	KindGeometryAsset
	KindSceneAsset
)

// String returns the kind's canonical name.
func (k Kind) String() string {
	switch k {
	case KindTextureResource:
		return "texture"
	case KindBufferResource:
		return "buffer"
	case KindMaterialAsset:
		return "material"
	case KindMeshBuild:
		return "mesh_build"
	case KindGeometryAsset:
		return "geometry"
	case KindSceneAsset:
		return "scene"
	default:
		return "unknown"
	}
}

// ItemID is a dense, monotonically assigned plan item index.
type ItemID int

// InvalidItem marks the absence of a plan item.
const InvalidItem ItemID = -1

// Step is one entry of a sealed plan's execution order.
type Step struct {
	ID      ItemID
	Kind    Kind
	Name    string
	Payload any
	// Deps lists the producers this step waits on, in insertion order.
	Deps []ItemID
}
