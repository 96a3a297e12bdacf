package cook

import (
	"context"
)

// geometryDocument is the cooked descriptor written per geometry asset.
type geometryDocument struct {
	Name   string       `json:"name"`
	Mesh   meshDocument `json:"mesh"`
	Vertex bufferRefDoc `json:"vertex_buffer"`
	Index  bufferRefDoc `json:"index_buffer"`
}

type meshDocument struct {
	Variant             string `json:"variant"`
	VertexCount         uint32 `json:"vertex_count"`
	IndexCount          uint32 `json:"index_count"`
	VertexStride        uint32 `json:"vertex_stride"`
	BoneCount           uint32 `json:"bone_count,omitempty"`
	InfluencesPerVertex uint8  `json:"influences_per_vertex,omitempty"`
}

type bufferRefDoc struct {
	Index     int    `json:"index"`
	Signature string `json:"signature"`
}

// GeometryCooker emits a mesh build's blobs through the buffer table and
// writes a geometry descriptor referencing them. A missing or failed mesh
// build fails the item; there is no meaningful placeholder geometry.
type GeometryCooker struct {
	base
	env *Environment
}

func (c *GeometryCooker) Cook(ctx context.Context, item WorkItem) WorkResult {
	payload, ok := item.Step.Payload.(*GeometryPayload)
	if !ok {
		return failedResult(item, Errorf(CodeValidation, "", item.Step.Name, "payload is not a geometry payload"))
	}

	producer, found := c.env.Registry.Lookup(payload.MeshItem)
	if !found || !producer.Success || producer.Mesh == nil {
		return failedResult(item, Errorf(CodeMissingDependency, "", item.Step.Name,
			"mesh build %q is unavailable", payload.MeshItem))
	}
	mesh := producer.Mesh

	if err := ctx.Err(); err != nil {
		return cancelledResult(item)
	}

	vertexEntry, vertexSig, err := emitCompressedBuffer(c.env, mesh.VertexBlob, payload.Compression)
	if err != nil {
		return failedResult(item, Errorf(CodeReservationOverflow, "", item.Step.Name, "emit vertex buffer: %v", err))
	}
	indexEntry, indexSig, err := emitCompressedBuffer(c.env, mesh.IndexBlob, payload.Compression)
	if err != nil {
		return failedResult(item, Errorf(CodeReservationOverflow, "", item.Step.Name, "emit index buffer: %v", err))
	}

	doc := geometryDocument{
		Name:   item.Step.Name,
		Mesh:   describeMesh(mesh.Variant),
		Vertex: bufferRefDoc{Index: vertexEntry.Index, Signature: vertexSig.String()},
		Index:  bufferRefDoc{Index: indexEntry.Index, Signature: indexSig.String()},
	}
	outputPath, err := c.env.writeDescriptorFile(item.Step.Name, "geometry", doc)
	if err != nil {
		return failedResult(item, Errorf(CodeIOFailure, outputPath, item.Step.Name, "write descriptor: %v", err))
	}

	return WorkResult{
		ID:            item.Step.ID,
		Kind:          item.Step.Kind,
		Name:          item.Step.Name,
		Success:       true,
		ResourceIndex: -1,
		OutputPath:    outputPath,
	}
}

func describeMesh(variant MeshVariant) meshDocument {
	switch v := variant.(type) {
	case StaticMesh:
		return meshDocument{
			Variant:      "static",
			VertexCount:  v.VertexCount,
			IndexCount:   v.IndexCount,
			VertexStride: v.VertexStride,
		}
	case SkinnedMesh:
		return meshDocument{
			Variant:             "skinned",
			VertexCount:         v.VertexCount,
			IndexCount:          v.IndexCount,
			VertexStride:        v.VertexStride,
			BoneCount:           v.BoneCount,
			InfluencesPerVertex: v.InfluencesPerVertex,
		}
	default:
		return meshDocument{Variant: "unknown"}
	}
}
