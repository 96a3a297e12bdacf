package cook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"kiln/internal/cook"
	"kiln/internal/plan"
)

func step(id plan.ItemID, kind plan.Kind, name string, payload any) cook.WorkItem {
	return cook.WorkItem{Step: plan.Step{ID: id, Kind: kind, Name: name, Payload: payload}}
}

func TestBufferCookerDeduplicatesIdenticalContent(t *testing.T) {
	env := newTestEnv(t)
	cooker := cook.Cookers(env)[plan.KindBufferResource]
	data := bytes.Repeat([]byte("kiln"), 64)

	first := cooker.Cook(context.Background(), step(0, plan.KindBufferResource, "blob_a", &cook.BufferPayload{Data: data}))
	if first.Failed() {
		t.Fatalf("first cook failed: %v", first.Diagnostics)
	}
	second := cooker.Cook(context.Background(), step(1, plan.KindBufferResource, "blob_b", &cook.BufferPayload{Data: append([]byte(nil), data...)}))
	if second.Failed() {
		t.Fatalf("second cook failed: %v", second.Diagnostics)
	}
	if first.ResourceIndex != second.ResourceIndex {
		t.Fatalf("identical blobs got indices %d and %d", first.ResourceIndex, second.ResourceIndex)
	}
	if env.Buffers.Len() != 1 {
		t.Fatalf("buffer table has %d entries, want 1", env.Buffers.Len())
	}

	// A different codec over the same bytes is a distinct resource.
	third := cooker.Cook(context.Background(), step(2, plan.KindBufferResource, "blob_c", &cook.BufferPayload{
		Data:        append([]byte(nil), data...),
		Compression: cook.CompressionLZ4,
	}))
	if third.Failed() {
		t.Fatalf("third cook failed: %v", third.Diagnostics)
	}
	if third.ResourceIndex == first.ResourceIndex {
		t.Fatal("different codecs deduplicated into one entry")
	}
}

func TestBufferCookerRoundTripsCompressedPayload(t *testing.T) {
	env := newTestEnv(t)
	cooker := cook.Cookers(env)[plan.KindBufferResource]
	data := bytes.Repeat([]byte("highly compressible "), 128)

	result := cooker.Cook(context.Background(), step(0, plan.KindBufferResource, "blob", &cook.BufferPayload{
		Data:        data,
		Compression: cook.CompressionZstd,
	}))
	if result.Failed() {
		t.Fatalf("cook failed: %v", result.Diagnostics)
	}
	if err := env.Writer.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	entry, ok := env.Buffers.Lookup(result.Signature)
	if !ok {
		t.Fatal("signature missing from buffer table")
	}
	descriptor := entry.Descriptor.(cook.BufferDescriptor)
	if descriptor.Compression != cook.CompressionZstd {
		t.Fatalf("stored codec = %s, want zstd", descriptor.Compression)
	}
	if descriptor.StoredSize >= descriptor.UncompressedSize {
		t.Fatalf("stored size %d not smaller than %d", descriptor.StoredSize, descriptor.UncompressedSize)
	}

	raw, err := os.ReadFile(env.OutputRoot + "/" + cook.BufferDataFile)
	if err != nil {
		t.Fatalf("read data file: %v", err)
	}
	stored := raw[entry.Reservation.AlignedOffset : entry.Reservation.AlignedOffset+entry.Size]
	restored, err := cook.Decompress(descriptor.Compression, stored, int(descriptor.UncompressedSize))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(restored, data) {
		t.Fatal("round-tripped buffer differs from input")
	}
}

func TestBufferCookerValidation(t *testing.T) {
	env := newTestEnv(t)
	cooker := cook.Cookers(env)[plan.KindBufferResource]

	result := cooker.Cook(context.Background(), step(0, plan.KindBufferResource, "empty", &cook.BufferPayload{}))
	if !result.Failed() {
		t.Fatal("cook succeeded with no data and no source")
	}
	if result.Diagnostics[0].Code != cook.CodeValidation {
		t.Fatalf("code = %s, want %s", result.Diagnostics[0].Code, cook.CodeValidation)
	}
}

func TestMaterialCookerDegradesMissingTexture(t *testing.T) {
	env := newTestEnv(t)
	cooker := cook.Cookers(env)[plan.KindMaterialAsset]

	result := cooker.Cook(context.Background(), step(0, plan.KindMaterialAsset, "bricks", &cook.MaterialPayload{
		Textures: []cook.MaterialTextureRef{{Slot: "albedo", Item: "bricks_albedo"}},
		Scalars:  map[string]float64{"roughness": 0.8},
	}))
	// The item still produces output; the break is carried as an error
	// diagnostic.
	if result.Failed() {
		t.Fatalf("cook failed outright: %v", result.Diagnostics)
	}
	if len(result.Diagnostics) != 1 || result.Diagnostics[0].Code != cook.CodeMissingDependency {
		t.Fatalf("diagnostics = %v, want one missing_dependency", result.Diagnostics)
	}
	if result.OutputPath == "" {
		t.Fatal("degraded material has no output path")
	}

	data, err := os.ReadFile(result.OutputPath)
	if err != nil {
		t.Fatalf("read descriptor: %v", err)
	}
	var doc struct {
		Textures []struct {
			Slot  string `json:"slot"`
			Index int    `json:"index"`
		} `json:"textures"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal descriptor: %v", err)
	}
	if len(doc.Textures) != 1 || doc.Textures[0].Index != 0 {
		t.Fatalf("descriptor textures = %+v, want one slot bound to the fallback index 0", doc.Textures)
	}
}

func TestMaterialCookerResolvesRecordedTexture(t *testing.T) {
	env := newTestEnv(t)
	texCooker := cook.Cookers(env)[plan.KindTextureResource]
	matCooker := cook.Cookers(env)[plan.KindMaterialAsset]
	source := writeTestPNG(t, t.TempDir(), "albedo.png", 2, 2)

	texture := texCooker.Cook(context.Background(), textureStep(0, "bricks_albedo", &cook.TexturePayload{
		Source:     source,
		Intent:     "albedo",
		ColorSpace: "srgb",
	}))
	if texture.Failed() {
		t.Fatalf("texture cook failed: %v", texture.Diagnostics)
	}
	env.Registry.Record(texture)

	material := matCooker.Cook(context.Background(), step(1, plan.KindMaterialAsset, "bricks", &cook.MaterialPayload{
		Textures: []cook.MaterialTextureRef{{Slot: "albedo", Item: "bricks_albedo"}},
	}))
	if material.Failed() {
		t.Fatalf("material cook failed: %v", material.Diagnostics)
	}
	if len(material.Diagnostics) != 0 {
		t.Fatalf("unexpected diagnostics: %v", material.Diagnostics)
	}

	data, err := os.ReadFile(material.OutputPath)
	if err != nil {
		t.Fatalf("read descriptor: %v", err)
	}
	if !strings.Contains(string(data), texture.Signature.String()) {
		t.Fatal("descriptor does not reference the texture's signature")
	}
}

func quadMesh() *cook.MeshBuildPayload {
	return &cook.MeshBuildPayload{
		Positions: []float32{0, 0, 0, 1, 0, 0, 1, 1, 0, 0, 1, 0},
		Normals:   []float32{0, 0, 1, 0, 0, 1, 0, 0, 1, 0, 0, 1},
		UVs:       []float32{0, 0, 1, 0, 1, 1, 0, 1},
		Indices:   []uint32{0, 1, 2, 0, 2, 3},
	}
}

func TestMeshBuildCookerStaticVariant(t *testing.T) {
	env := newTestEnv(t)
	cooker := cook.Cookers(env)[plan.KindMeshBuild]

	result := cooker.Cook(context.Background(), step(0, plan.KindMeshBuild, "quad", quadMesh()))
	if result.Failed() {
		t.Fatalf("cook failed: %v", result.Diagnostics)
	}
	if result.Mesh == nil {
		t.Fatal("mesh build produced no output")
	}
	variant, ok := result.Mesh.Variant.(cook.StaticMesh)
	if !ok {
		t.Fatalf("variant = %T, want StaticMesh", result.Mesh.Variant)
	}
	if variant.VertexCount != 4 || variant.IndexCount != 6 {
		t.Fatalf("counts = %d vertices, %d indices, want 4 and 6", variant.VertexCount, variant.IndexCount)
	}
	if got, want := len(result.Mesh.VertexBlob), int(variant.VertexCount*variant.VertexStride); got != want {
		t.Fatalf("vertex blob size = %d, want %d", got, want)
	}
	if got := len(result.Mesh.IndexBlob); got != 24 {
		t.Fatalf("index blob size = %d, want 24", got)
	}
}

func TestMeshBuildCookerSkinnedVariant(t *testing.T) {
	env := newTestEnv(t)
	cooker := cook.Cookers(env)[plan.KindMeshBuild]

	payload := quadMesh()
	payload.BoneCount = 2
	payload.BoneWeights = make([]float32, 4*4)
	payload.BoneIndices = make([]uint8, 4*4)
	for v := 0; v < 4; v++ {
		payload.BoneWeights[v*4] = 1
		payload.BoneIndices[v*4] = uint8(v % 2)
	}

	result := cooker.Cook(context.Background(), step(0, plan.KindMeshBuild, "quad_skinned", payload))
	if result.Failed() {
		t.Fatalf("cook failed: %v", result.Diagnostics)
	}
	variant, ok := result.Mesh.Variant.(cook.SkinnedMesh)
	if !ok {
		t.Fatalf("variant = %T, want SkinnedMesh", result.Mesh.Variant)
	}
	if variant.BoneCount != 2 || variant.InfluencesPerVertex != 4 {
		t.Fatalf("skinning = %d bones, %d influences, want 2 and 4", variant.BoneCount, variant.InfluencesPerVertex)
	}
	staticResult := cooker.Cook(context.Background(), step(1, plan.KindMeshBuild, "quad_static", quadMesh()))
	staticVariant := staticResult.Mesh.Variant.(cook.StaticMesh)
	if variant.VertexStride <= staticVariant.VertexStride {
		t.Fatal("skinned stride not larger than static stride")
	}
}

func TestMeshBuildCookerValidation(t *testing.T) {
	env := newTestEnv(t)
	cooker := cook.Cookers(env)[plan.KindMeshBuild]

	cases := []struct {
		name    string
		mutate  func(*cook.MeshBuildPayload)
		message string
	}{
		{"index out of range", func(p *cook.MeshBuildPayload) { p.Indices[0] = 99 }, "out of range"},
		{"non-triangle indices", func(p *cook.MeshBuildPayload) { p.Indices = p.Indices[:4] }, "triangles"},
		{"mismatched normals", func(p *cook.MeshBuildPayload) { p.Normals = p.Normals[:3] }, "does not match"},
		{"skinned without bones", func(p *cook.MeshBuildPayload) {
			p.BoneWeights = make([]float32, 16)
			p.BoneIndices = make([]uint8, 16)
		}, "zero bones"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := quadMesh()
			tc.mutate(payload)
			result := cooker.Cook(context.Background(), step(0, plan.KindMeshBuild, tc.name, payload))
			if !result.Failed() {
				t.Fatal("cook succeeded, want validation failure")
			}
			if result.Diagnostics[0].Code != cook.CodeValidation {
				t.Fatalf("code = %s, want %s", result.Diagnostics[0].Code, cook.CodeValidation)
			}
			if !strings.Contains(result.Diagnostics[0].Message, tc.message) {
				t.Fatalf("message %q does not mention %q", result.Diagnostics[0].Message, tc.message)
			}
		})
	}
}

func TestGeometryCookerEmitsBuffersAndDescriptor(t *testing.T) {
	env := newTestEnv(t)
	meshCooker := cook.Cookers(env)[plan.KindMeshBuild]
	geoCooker := cook.Cookers(env)[plan.KindGeometryAsset]

	mesh := meshCooker.Cook(context.Background(), step(0, plan.KindMeshBuild, "quad_mesh", quadMesh()))
	if mesh.Failed() {
		t.Fatalf("mesh cook failed: %v", mesh.Diagnostics)
	}
	env.Registry.Record(mesh)

	result := geoCooker.Cook(context.Background(), step(1, plan.KindGeometryAsset, "quad", &cook.GeometryPayload{
		MeshItem: "quad_mesh",
	}))
	if result.Failed() {
		t.Fatalf("geometry cook failed: %v", result.Diagnostics)
	}
	if env.Buffers.Len() != 2 {
		t.Fatalf("buffer table has %d entries, want vertex + index", env.Buffers.Len())
	}

	data, err := os.ReadFile(result.OutputPath)
	if err != nil {
		t.Fatalf("read descriptor: %v", err)
	}
	var doc struct {
		Mesh struct {
			Variant     string `json:"variant"`
			VertexCount uint32 `json:"vertex_count"`
		} `json:"mesh"`
		Vertex struct {
			Index int `json:"index"`
		} `json:"vertex_buffer"`
		Index struct {
			Index int `json:"index"`
		} `json:"index_buffer"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal descriptor: %v", err)
	}
	if doc.Mesh.Variant != "static" || doc.Mesh.VertexCount != 4 {
		t.Fatalf("mesh doc = %+v", doc.Mesh)
	}
	if doc.Vertex.Index == doc.Index.Index {
		t.Fatal("vertex and index buffers share one table entry")
	}
}

func TestGeometryCookerFailsOnMissingMesh(t *testing.T) {
	env := newTestEnv(t)
	cooker := cook.Cookers(env)[plan.KindGeometryAsset]

	result := cooker.Cook(context.Background(), step(0, plan.KindGeometryAsset, "orphan", &cook.GeometryPayload{
		MeshItem: "never_built",
	}))
	if !result.Failed() {
		t.Fatal("cook succeeded without its mesh build")
	}
	if result.Diagnostics[0].Code != cook.CodeMissingDependency {
		t.Fatalf("code = %s, want %s", result.Diagnostics[0].Code, cook.CodeMissingDependency)
	}
}

func TestSceneCookerPrunesEmptyLeaves(t *testing.T) {
	env := newTestEnv(t)
	meshCooker := cook.Cookers(env)[plan.KindMeshBuild]
	geoCooker := cook.Cookers(env)[plan.KindGeometryAsset]
	sceneCooker := cook.Cookers(env)[plan.KindSceneAsset]

	mesh := meshCooker.Cook(context.Background(), step(0, plan.KindMeshBuild, "quad_mesh", quadMesh()))
	env.Registry.Record(mesh)
	geometry := geoCooker.Cook(context.Background(), step(1, plan.KindGeometryAsset, "quad", &cook.GeometryPayload{MeshItem: "quad_mesh"}))
	if geometry.Failed() {
		t.Fatalf("geometry cook failed: %v", geometry.Diagnostics)
	}
	env.Registry.Record(geometry)

	// root -> group -> leaf: the empty leaf goes first, then the group that
	// only existed to hold it.
	result := sceneCooker.Cook(context.Background(), step(2, plan.KindSceneAsset, "level", &cook.ScenePayload{
		PruneEmptyNodes: true,
		Nodes: []cook.SceneNode{
			{Name: "root", Parent: -1, Geometry: "quad"},
			{Name: "group", Parent: 0},
			{Name: "leaf", Parent: 1},
		},
	}))
	if result.Failed() {
		t.Fatalf("scene cook failed: %v", result.Diagnostics)
	}

	data, err := os.ReadFile(result.OutputPath)
	if err != nil {
		t.Fatalf("read descriptor: %v", err)
	}
	var doc struct {
		Nodes []struct {
			Name   string `json:"name"`
			Parent int    `json:"parent"`
		} `json:"nodes"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal descriptor: %v", err)
	}
	if len(doc.Nodes) != 1 || doc.Nodes[0].Name != "root" {
		t.Fatalf("nodes = %+v, want only root to survive pruning", doc.Nodes)
	}
}

func TestSceneCookerDegradesBrokenReferences(t *testing.T) {
	env := newTestEnv(t)
	cooker := cook.Cookers(env)[plan.KindSceneAsset]

	result := cooker.Cook(context.Background(), step(0, plan.KindSceneAsset, "level", &cook.ScenePayload{
		Nodes: []cook.SceneNode{
			{Name: "root", Parent: -1, Geometry: "missing_geo", Material: "missing_mat"},
		},
	}))
	if result.Failed() {
		t.Fatalf("scene cook failed outright: %v", result.Diagnostics)
	}
	if len(result.Diagnostics) != 2 {
		t.Fatalf("diagnostics = %v, want two missing_dependency entries", result.Diagnostics)
	}
	for _, diag := range result.Diagnostics {
		if diag.Code != cook.CodeMissingDependency {
			t.Fatalf("code = %s, want %s", diag.Code, cook.CodeMissingDependency)
		}
	}
}

func TestSceneCookerRejectsForwardParent(t *testing.T) {
	env := newTestEnv(t)
	cooker := cook.Cookers(env)[plan.KindSceneAsset]

	result := cooker.Cook(context.Background(), step(0, plan.KindSceneAsset, "level", &cook.ScenePayload{
		Nodes: []cook.SceneNode{
			{Name: "child", Parent: 1},
			{Name: "parent", Parent: -1},
		},
	}))
	if !result.Failed() {
		t.Fatal("cook succeeded with a forward parent link")
	}
	if result.Diagnostics[0].Code != cook.CodeValidation {
		t.Fatalf("code = %s, want %s", result.Diagnostics[0].Code, cook.CodeValidation)
	}
}
