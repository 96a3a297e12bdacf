package cook

import (
	"context"
	"encoding/binary"
	"math"
)

// Packed vertex strides: position(12) + normal(12) + uv(8), plus
// weights(4×4) + bone indices(4) for the skinned layout.
const (
	staticVertexStride  = 32
	skinnedVertexStride = staticVertexStride + 20
	skinningInfluences  = 4
)

// MeshBuildCooker interleaves raw attribute streams into packed vertex and
// index blobs. Its product stays in memory; the downstream geometry cooker
// decides how the blobs are emitted.
type MeshBuildCooker struct {
	base
	env *Environment
}

func (c *MeshBuildCooker) Cook(ctx context.Context, item WorkItem) WorkResult {
	payload, ok := item.Step.Payload.(*MeshBuildPayload)
	if !ok {
		return failedResult(item, Errorf(CodeValidation, "", item.Step.Name, "payload is not a mesh build payload"))
	}

	if diag, ok := validateMeshPayload(payload, item.Step.Name); !ok {
		return failedResult(item, diag)
	}

	if err := ctx.Err(); err != nil {
		return cancelledResult(item)
	}

	vertexCount := len(payload.Positions) / 3
	skinned := len(payload.BoneWeights) > 0

	var variant MeshVariant
	var stride int
	if skinned {
		stride = skinnedVertexStride
		variant = SkinnedMesh{
			VertexCount:         uint32(vertexCount),
			IndexCount:          uint32(len(payload.Indices)),
			VertexStride:        uint32(stride),
			BoneCount:           payload.BoneCount,
			InfluencesPerVertex: skinningInfluences,
		}
	} else {
		stride = staticVertexStride
		variant = StaticMesh{
			VertexCount:  uint32(vertexCount),
			IndexCount:   uint32(len(payload.Indices)),
			VertexStride: uint32(stride),
		}
	}

	vertexBlob := make([]byte, 0, vertexCount*stride)
	for v := 0; v < vertexCount; v++ {
		vertexBlob = appendFloat32s(vertexBlob, payload.Positions[v*3:v*3+3])
		if len(payload.Normals) > 0 {
			vertexBlob = appendFloat32s(vertexBlob, payload.Normals[v*3:v*3+3])
		} else {
			vertexBlob = append(vertexBlob, make([]byte, 12)...)
		}
		if len(payload.UVs) > 0 {
			vertexBlob = appendFloat32s(vertexBlob, payload.UVs[v*2:v*2+2])
		} else {
			vertexBlob = append(vertexBlob, make([]byte, 8)...)
		}
		if skinned {
			vertexBlob = appendFloat32s(vertexBlob, payload.BoneWeights[v*skinningInfluences:(v+1)*skinningInfluences])
			vertexBlob = append(vertexBlob, payload.BoneIndices[v*skinningInfluences:(v+1)*skinningInfluences]...)
		}
	}

	indexBlob := make([]byte, 0, len(payload.Indices)*4)
	for _, index := range payload.Indices {
		indexBlob = binary.LittleEndian.AppendUint32(indexBlob, index)
	}

	return WorkResult{
		ID:            item.Step.ID,
		Kind:          item.Step.Kind,
		Name:          item.Step.Name,
		Success:       true,
		ResourceIndex: -1,
		Mesh: &MeshBuildOutput{
			Variant:    variant,
			VertexBlob: vertexBlob,
			IndexBlob:  indexBlob,
		},
	}
}

func validateMeshPayload(payload *MeshBuildPayload, objectPath string) (Diagnostic, bool) {
	if len(payload.Positions) == 0 || len(payload.Positions)%3 != 0 {
		return Errorf(CodeValidation, "", objectPath, "positions must be non-empty xyz triplets, got %d floats", len(payload.Positions)), false
	}
	vertexCount := len(payload.Positions) / 3
	if len(payload.Normals) > 0 && len(payload.Normals) != vertexCount*3 {
		return Errorf(CodeValidation, "", objectPath, "normal count %d does not match %d vertices", len(payload.Normals)/3, vertexCount), false
	}
	if len(payload.UVs) > 0 && len(payload.UVs) != vertexCount*2 {
		return Errorf(CodeValidation, "", objectPath, "uv count %d does not match %d vertices", len(payload.UVs)/2, vertexCount), false
	}
	if len(payload.Indices) == 0 || len(payload.Indices)%3 != 0 {
		return Errorf(CodeValidation, "", objectPath, "indices must form triangles, got %d", len(payload.Indices)), false
	}
	for _, index := range payload.Indices {
		if int(index) >= vertexCount {
			return Errorf(CodeValidation, "", objectPath, "index %d out of range for %d vertices", index, vertexCount), false
		}
	}
	if len(payload.BoneWeights) > 0 {
		if len(payload.BoneWeights) != vertexCount*skinningInfluences {
			return Errorf(CodeValidation, "", objectPath, "bone weights must carry %d influences per vertex", skinningInfluences), false
		}
		if len(payload.BoneIndices) != len(payload.BoneWeights) {
			return Errorf(CodeValidation, "", objectPath, "bone index count %d does not match weight count %d", len(payload.BoneIndices), len(payload.BoneWeights)), false
		}
		if payload.BoneCount == 0 {
			return Errorf(CodeValidation, "", objectPath, "skinned mesh declares zero bones"), false
		}
		for _, bone := range payload.BoneIndices {
			if uint32(bone) >= payload.BoneCount {
				return Errorf(CodeValidation, "", objectPath, "bone index %d out of range for %d bones", bone, payload.BoneCount), false
			}
		}
	}
	return Diagnostic{}, true
}

func appendFloat32s(dst []byte, values []float32) []byte {
	for _, v := range values {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	return dst
}
