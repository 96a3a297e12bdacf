package importer

import (
	"fmt"
	"path/filepath"
	"strings"

	"kiln/internal/cook"
	"kiln/internal/manifest"
	"kiln/internal/plan"
)

// buildPlan translates a manifest's jobs into plan items and dependency
// edges. Per-job translation failures become diagnostics against that job;
// the remaining jobs still plan.
func buildPlan(m *manifest.Manifest) (*plan.Planner, []cook.Diagnostic) {
	planner := plan.NewPlanner()
	var diags []cook.Diagnostic
	for _, job := range m.Jobs {
		switch job.Type {
		case "texture":
			planner.AddTexture(job.Name, texturePayload(job.Source, job.Tuning))
		case "gltf":
			diags = append(diags, planGLTFJob(planner, job)...)
		case "fbx":
			// FBX is a closed binary container; importing it would need a
			// bundled SDK. Convert to glTF upstream.
			diags = append(diags, cook.Errorf(cook.CodeUnsupported, job.Source, job.Name,
				"fbx sources are not supported, convert to gltf"))
		}
	}
	return planner, diags
}

func texturePayload(source string, tuning manifest.Tuning) *cook.TexturePayload {
	return &cook.TexturePayload{
		Source:       source,
		Intent:       tuning.Intent,
		ColorSpace:   tuning.ColorSpace,
		MipPolicy:    tuning.MipPolicy,
		MipFilter:    tuning.MipFilter,
		ContentFlags: tuning.ContentFlags,
	}
}

// planGLTFJob expands one glTF container into texture, material, mesh,
// geometry, and scene items wired by dependency edges.
func planGLTFJob(planner *plan.Planner, job manifest.Job) []cook.Diagnostic {
	doc, err := loadGLTF(job.Source)
	if err != nil {
		return []cook.Diagnostic{cook.Errorf(cook.CodeDecodeFailed, job.Source, job.Name, "%v", err)}
	}

	var diags []cook.Diagnostic

	// Textures, keyed by glTF texture index.
	textureItems := make(map[int]struct {
		id   plan.ItemID
		name string
	})
	addTexture := func(textureIndex int, intent string) {
		if _, done := textureItems[textureIndex]; done {
			return
		}
		path, err := doc.textureImagePath(textureIndex)
		if err != nil {
			diags = append(diags, cook.Errorf(cook.CodeDecodeFailed, job.Source, job.Name, "texture %d: %v", textureIndex, err))
			return
		}
		relative, relErr := filepath.Rel(doc.baseDir, path)
		if relErr != nil {
			relative = filepath.Base(path)
		}
		tuning := job.TuningFor(filepath.ToSlash(relative))
		payload := texturePayload(path, tuning)
		if payload.Intent == "" {
			payload.Intent = intent
		}
		if payload.ColorSpace == "" && payload.Intent != "albedo" {
			payload.ColorSpace = "linear"
		}
		name := itemName(job.Name, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
		id := planner.AddTexture(name, payload)
		textureItems[textureIndex] = struct {
			id   plan.ItemID
			name string
		}{id, name}
	}

	// Materials, keyed by glTF material index.
	type materialItem struct {
		id   plan.ItemID
		name string
	}
	materialItems := make(map[int]materialItem)
	for i, material := range doc.Materials {
		var refs []cook.MaterialTextureRef
		var deps []plan.ItemID
		if material.hasBaseColor {
			addTexture(material.PBR.BaseColorTexture.Index, "albedo")
			if item, ok := textureItems[material.PBR.BaseColorTexture.Index]; ok {
				refs = append(refs, cook.MaterialTextureRef{Slot: "albedo", Item: item.name})
				deps = append(deps, item.id)
			}
		}
		if material.hasNormal {
			addTexture(material.NormalTexture.Index, "normal")
			if item, ok := textureItems[material.NormalTexture.Index]; ok {
				refs = append(refs, cook.MaterialTextureRef{Slot: "normal", Item: item.name})
				deps = append(deps, item.id)
			}
		}

		scalars := map[string]float64{}
		if material.PBR.MetallicFactor != nil {
			scalars["metallic"] = *material.PBR.MetallicFactor
		}
		if material.PBR.RoughnessFactor != nil {
			scalars["roughness"] = *material.PBR.RoughnessFactor
		}

		name := itemName(job.Name, nonEmpty(material.Name, fmt.Sprintf("material_%d", i)))
		id := planner.AddMaterial(name, &cook.MaterialPayload{Textures: refs, Scalars: scalars})
		for _, dep := range deps {
			planner.AddDependency(id, dep)
		}
		materialItems[i] = materialItem{id, name}
	}

	// Meshes: one mesh-build plus one geometry item per primitive.
	type geometryItem struct {
		id       plan.ItemID
		name     string
		material *int
	}
	geometryByMesh := make(map[int][]geometryItem)
	compression, _ := cook.ParseCompression(job.Compression)
	for meshIndex, mesh := range doc.Meshes {
		meshName := nonEmpty(mesh.Name, fmt.Sprintf("mesh_%d", meshIndex))
		for p, primitive := range mesh.Primitives {
			primitiveName := meshName
			if len(mesh.Primitives) > 1 {
				primitiveName = fmt.Sprintf("%s_%d", meshName, p)
			}

			payload, err := meshBuildPayload(doc, primitive.Attributes, primitive.Indices)
			if err != nil {
				diags = append(diags, cook.Errorf(cook.CodeDecodeFailed, job.Source,
					itemName(job.Name, primitiveName), "%v", err))
				continue
			}

			buildName := itemName(job.Name, primitiveName+"_mesh")
			buildID := planner.AddMeshBuild(buildName, payload)
			geoName := itemName(job.Name, primitiveName)
			geoID := planner.AddGeometry(geoName, &cook.GeometryPayload{
				MeshItem:    buildName,
				Compression: compression,
			})
			planner.AddDependency(geoID, buildID)
			geometryByMesh[meshIndex] = append(geometryByMesh[meshIndex], geometryItem{geoID, geoName, primitive.Material})
		}
	}

	// Scene: flatten the default scene's node tree, parents first.
	var nodes []cook.SceneNode
	var sceneDeps []plan.ItemID
	var walk func(nodeIndex, parent int)
	walk = func(nodeIndex, parent int) {
		if nodeIndex < 0 || nodeIndex >= len(doc.Nodes) {
			diags = append(diags, cook.Errorf(cook.CodeDecodeFailed, job.Source, job.Name,
				"scene node %d out of range", nodeIndex))
			return
		}
		node := doc.Nodes[nodeIndex]
		flat := cook.SceneNode{
			Name:   nonEmpty(node.Name, fmt.Sprintf("node_%d", nodeIndex)),
			Parent: parent,
		}
		if node.Mesh != nil {
			for _, geometry := range geometryByMesh[*node.Mesh] {
				flat.Geometry = geometry.name
				sceneDeps = append(sceneDeps, geometry.id)
				if geometry.material != nil {
					if material, ok := materialItems[*geometry.material]; ok {
						flat.Material = material.name
						sceneDeps = append(sceneDeps, material.id)
					}
				}
				break
			}
		}
		index := len(nodes)
		nodes = append(nodes, flat)
		for _, child := range node.Children {
			walk(child, index)
		}
	}
	if doc.Scene >= 0 && doc.Scene < len(doc.Scenes) {
		for _, root := range doc.Scenes[doc.Scene].Nodes {
			walk(root, -1)
		}
	}
	if len(nodes) > 0 {
		prune := job.PruneEmptyNodes != nil && *job.PruneEmptyNodes
		sceneID := planner.AddScene(itemName(job.Name, "scene"), &cook.ScenePayload{
			Nodes:           nodes,
			PruneEmptyNodes: prune,
		})
		for _, dep := range sceneDeps {
			planner.AddDependency(sceneID, dep)
		}
	}

	return diags
}

func meshBuildPayload(doc *gltfDocument, attributes map[string]int, indexAccessor *int) (*cook.MeshBuildPayload, error) {
	positionAccessor, ok := attributes["POSITION"]
	if !ok {
		return nil, fmt.Errorf("primitive has no POSITION attribute")
	}
	positions, err := doc.floatAttribute(positionAccessor, 3)
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}

	payload := &cook.MeshBuildPayload{Positions: positions}
	if accessor, ok := attributes["NORMAL"]; ok {
		payload.Normals, err = doc.floatAttribute(accessor, 3)
		if err != nil {
			return nil, fmt.Errorf("normals: %w", err)
		}
	}
	if accessor, ok := attributes["TEXCOORD_0"]; ok {
		payload.UVs, err = doc.floatAttribute(accessor, 2)
		if err != nil {
			return nil, fmt.Errorf("uvs: %w", err)
		}
	}

	if indexAccessor != nil {
		payload.Indices, err = doc.indices(*indexAccessor)
		if err != nil {
			return nil, fmt.Errorf("indices: %w", err)
		}
	} else {
		// Non-indexed primitives get a trivial index list.
		payload.Indices = make([]uint32, len(positions)/3)
		for i := range payload.Indices {
			payload.Indices[i] = uint32(i)
		}
	}
	return payload, nil
}

func itemName(jobName, local string) string {
	return jobName + "/" + local
}

func nonEmpty(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
