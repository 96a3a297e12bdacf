package cook

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
)

// materialDocument is the cooked descriptor written per material asset.
type materialDocument struct {
	Name     string               `json:"name"`
	Textures []materialTextureDoc `json:"textures"`
	Scalars  map[string]float64   `json:"scalars,omitempty"`
}

type materialTextureDoc struct {
	Slot  string `json:"slot"`
	Index int    `json:"index"`
	// Signature is the referenced texture's content signature; the
	// placeholder's signature marks a degraded slot.
	Signature string `json:"signature"`
}

// MaterialCooker resolves texture references through the registry and writes
// a material descriptor file. Unresolvable references degrade to the
// placeholder texture rather than failing the whole item.
type MaterialCooker struct {
	base
	env *Environment
}

func (c *MaterialCooker) Cook(ctx context.Context, item WorkItem) WorkResult {
	payload, ok := item.Step.Payload.(*MaterialPayload)
	if !ok {
		return failedResult(item, Errorf(CodeValidation, "", item.Step.Name, "payload is not a material payload"))
	}

	var diags []Diagnostic
	doc := materialDocument{Name: item.Step.Name, Scalars: payload.Scalars}
	for _, ref := range payload.Textures {
		producer, found := c.env.Registry.Lookup(ref.Item)
		if !found || !producer.Success {
			// Degrade to the placeholder but still report the break so
			// the job surfaces it.
			diags = append(diags, Errorf(CodeMissingDependency, "", item.Step.Name,
				"texture %q for slot %q is unavailable; using fallback", ref.Item, ref.Slot))
			fallback, err := c.env.FallbackTexture()
			if err != nil {
				diags = append(diags, Errorf(CodeReservationOverflow, "", item.Step.Name, "fallback texture: %v", err))
				return failedResult(item, diags...)
			}
			doc.Textures = append(doc.Textures, materialTextureDoc{
				Slot:      ref.Slot,
				Index:     fallback.Index,
				Signature: fallback.Signature.String(),
			})
			continue
		}
		doc.Textures = append(doc.Textures, materialTextureDoc{
			Slot:      ref.Slot,
			Index:     producer.ResourceIndex,
			Signature: producer.Signature.String(),
		})
	}
	sort.Slice(doc.Textures, func(i, j int) bool { return doc.Textures[i].Slot < doc.Textures[j].Slot })

	if err := ctx.Err(); err != nil {
		return cancelledResult(item)
	}

	outputPath, err := c.env.writeDescriptorFile(item.Step.Name, "material", doc)
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

// writeDescriptorFile marshals an asset descriptor and writes it under the
// output root as <name>.<kind>.json, synchronously through the async writer.
func (env *Environment) writeDescriptorFile(name, kind string, doc any) (string, error) {
	path := filepath.Join(env.OutputRoot, fmt.Sprintf("%s.%s.json", name, kind))
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return path, err
	}
	data = append(data, '\n')
	return path, env.Writer.Write(path, data, dataFileOptions())
}
