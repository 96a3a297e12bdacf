package cook

import (
	"context"
)

// sceneDocument is the cooked descriptor written per scene asset.
type sceneDocument struct {
	Name  string         `json:"name"`
	Nodes []sceneNodeDoc `json:"nodes"`
}

type sceneNodeDoc struct {
	Name     string `json:"name"`
	Parent   int    `json:"parent"`
	Geometry string `json:"geometry,omitempty"`
	Material string `json:"material,omitempty"`
}

// SceneCooker validates a node hierarchy against the registry, optionally
// prunes empty leaves, and writes a scene descriptor. Broken references
// degrade the node and carry an error diagnostic; the scene is still
// written.
type SceneCooker struct {
	base
	env *Environment
}

func (c *SceneCooker) Cook(ctx context.Context, item WorkItem) WorkResult {
	payload, ok := item.Step.Payload.(*ScenePayload)
	if !ok {
		return failedResult(item, Errorf(CodeValidation, "", item.Step.Name, "payload is not a scene payload"))
	}

	if diag, ok := validateSceneNodes(payload.Nodes, item.Step.Name); !ok {
		return failedResult(item, diag)
	}

	var diags []Diagnostic
	nodes := make([]SceneNode, len(payload.Nodes))
	copy(nodes, payload.Nodes)
	for i := range nodes {
		if nodes[i].Geometry != "" {
			if producer, found := c.env.Registry.Lookup(nodes[i].Geometry); !found || !producer.Success {
				diags = append(diags, Errorf(CodeMissingDependency, "", item.Step.Name,
					"geometry %q for node %q is unavailable", nodes[i].Geometry, nodes[i].Name))
				nodes[i].Geometry = ""
			}
		}
		if nodes[i].Material != "" {
			if producer, found := c.env.Registry.Lookup(nodes[i].Material); !found || !producer.Success {
				diags = append(diags, Errorf(CodeMissingDependency, "", item.Step.Name,
					"material %q for node %q is unavailable", nodes[i].Material, nodes[i].Name))
				nodes[i].Material = ""
			}
		}
	}

	if payload.PruneEmptyNodes {
		nodes = pruneEmptyNodes(nodes)
	}

	if err := ctx.Err(); err != nil {
		return cancelledResult(item)
	}

	doc := sceneDocument{Name: item.Step.Name, Nodes: make([]sceneNodeDoc, len(nodes))}
	for i, node := range nodes {
		doc.Nodes[i] = sceneNodeDoc{
			Name:     node.Name,
			Parent:   node.Parent,
			Geometry: node.Geometry,
			Material: node.Material,
		}
	}
	outputPath, err := c.env.writeDescriptorFile(item.Step.Name, "scene", doc)
	if err != nil {
		diags = append(diags, Errorf(CodeIOFailure, outputPath, item.Step.Name, "write descriptor: %v", err))
		return failedResult(item, diags...)
	}

	return WorkResult{
		ID:            item.Step.ID,
		Kind:          item.Step.Kind,
		Name:          item.Step.Name,
		Success:       true,
		ResourceIndex: -1,
		OutputPath:    outputPath,
		Diagnostics:   diags,
	}
}

func validateSceneNodes(nodes []SceneNode, objectPath string) (Diagnostic, bool) {
	for i, node := range nodes {
		// Parents must precede children so a single forward pass sees a
		// node's parent before the node.
		if node.Parent != -1 && (node.Parent < 0 || node.Parent >= i) {
			return Errorf(CodeValidation, "", objectPath,
				"node %q parent %d must be -1 or an earlier node index", node.Name, node.Parent), false
		}
	}
	return Diagnostic{}, true
}

// pruneEmptyNodes repeatedly drops leaves with no geometry until none
// remain, reindexing parent links.
func pruneEmptyNodes(nodes []SceneNode) []SceneNode {
	for {
		hasChild := make([]bool, len(nodes))
		for _, node := range nodes {
			if node.Parent >= 0 {
				hasChild[node.Parent] = true
			}
		}
		keep := make([]bool, len(nodes))
		pruned := false
		for i, node := range nodes {
			keep[i] = node.Geometry != "" || hasChild[i]
			if !keep[i] {
				pruned = true
			}
		}
		if !pruned {
			return nodes
		}
		remap := make([]int, len(nodes))
		next := make([]SceneNode, 0, len(nodes))
		for i, node := range nodes {
			if !keep[i] {
				remap[i] = -1
				continue
			}
			remap[i] = len(next)
			if node.Parent >= 0 {
				node.Parent = remap[node.Parent]
			}
			next = append(next, node)
		}
		nodes = next
	}
}
