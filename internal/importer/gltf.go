package importer

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// The reader below handles the glTF 2.0 subset the cooker consumes:
// external or data-URI buffers and images, float vec2/vec3 attributes, and
// scalar u16/u32 indices. Sparse accessors, animations, and extensions are
// out of scope.

type gltfDocument struct {
	Buffers     []gltfBuffer     `json:"buffers"`
	BufferViews []gltfBufferView `json:"bufferViews"`
	Accessors   []gltfAccessor   `json:"accessors"`
	Images      []gltfImage      `json:"images"`
	Textures    []gltfTexture    `json:"textures"`
	Materials   []gltfMaterial   `json:"materials"`
	Meshes      []gltfMesh       `json:"meshes"`
	Nodes       []gltfNode       `json:"nodes"`
	Scenes      []gltfScene      `json:"scenes"`
	Scene       int              `json:"scene"`

	baseDir string
	binData [][]byte
}

type gltfBuffer struct {
	URI        string `json:"uri"`
	ByteLength int    `json:"byteLength"`
}

type gltfBufferView struct {
	Buffer     int `json:"buffer"`
	ByteOffset int `json:"byteOffset"`
	ByteLength int `json:"byteLength"`
	ByteStride int `json:"byteStride"`
}

type gltfAccessor struct {
	BufferView    int    `json:"bufferView"`
	ByteOffset    int    `json:"byteOffset"`
	ComponentType int    `json:"componentType"`
	Count         int    `json:"count"`
	Type          string `json:"type"`
}

type gltfImage struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

type gltfTexture struct {
	Source int `json:"source"`
}

type gltfMaterial struct {
	Name string `json:"name"`
	PBR  struct {
		BaseColorTexture struct {
			Index int `json:"index"`
		} `json:"baseColorTexture"`
		MetallicFactor  *float64 `json:"metallicFactor"`
		RoughnessFactor *float64 `json:"roughnessFactor"`
	} `json:"pbrMetallicRoughness"`
	NormalTexture struct {
		Index int `json:"index"`
	} `json:"normalTexture"`

	hasBaseColor bool
	hasNormal    bool
}

type gltfMesh struct {
	Name       string `json:"name"`
	Primitives []struct {
		Attributes map[string]int `json:"attributes"`
		Indices    *int           `json:"indices"`
		Material   *int           `json:"material"`
	} `json:"primitives"`
}

type gltfNode struct {
	Name     string `json:"name"`
	Mesh     *int   `json:"mesh"`
	Children []int  `json:"children"`
}

type gltfScene struct {
	Nodes []int `json:"nodes"`
}

// glTF component type codes.
const (
	gltfComponentUint16  = 5123
	gltfComponentUint32  = 5125
	gltfComponentFloat32 = 5126
)

// loadGLTF reads a .gltf file and resolves its buffers.
func loadGLTF(path string) (*gltfDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gltf: %w", err)
	}

	// Presence of optional texture slots is only visible in the raw JSON;
	// a decoded zero index is a valid reference.
	var doc gltfDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse gltf: %w", err)
	}
	var raw struct {
		Materials []map[string]json.RawMessage `json:"materials"`
	}
	if err := json.Unmarshal(data, &raw); err == nil {
		for i := range doc.Materials {
			if i >= len(raw.Materials) {
				break
			}
			if pbr, ok := raw.Materials[i]["pbrMetallicRoughness"]; ok {
				doc.Materials[i].hasBaseColor = strings.Contains(string(pbr), "baseColorTexture")
			}
			_, doc.Materials[i].hasNormal = raw.Materials[i]["normalTexture"]
		}
	}

	doc.baseDir = filepath.Dir(path)
	doc.binData = make([][]byte, len(doc.Buffers))
	for i, buffer := range doc.Buffers {
		resolved, err := doc.resolveURI(buffer.URI)
		if err != nil {
			return nil, fmt.Errorf("buffer %d: %w", i, err)
		}
		if len(resolved) < buffer.ByteLength {
			return nil, fmt.Errorf("buffer %d: %d bytes resolved, %d declared", i, len(resolved), buffer.ByteLength)
		}
		doc.binData[i] = resolved
	}
	return &doc, nil
}

func (d *gltfDocument) resolveURI(uri string) ([]byte, error) {
	if encoded, ok := strings.CutPrefix(uri, "data:"); ok {
		_, payload, found := strings.Cut(encoded, ";base64,")
		if !found {
			return nil, fmt.Errorf("unsupported data URI encoding")
		}
		return base64.StdEncoding.DecodeString(payload)
	}
	return os.ReadFile(filepath.Join(d.baseDir, uri))
}

// imagePath resolves an image's on-disk location. Data-URI images are not
// supported; they would need extraction to a temp file first.
func (d *gltfDocument) imagePath(index int) (string, error) {
	if index < 0 || index >= len(d.Images) {
		return "", fmt.Errorf("image index %d out of range", index)
	}
	uri := d.Images[index].URI
	if uri == "" || strings.HasPrefix(uri, "data:") {
		return "", fmt.Errorf("image %d has no file URI", index)
	}
	return filepath.Join(d.baseDir, uri), nil
}

func (d *gltfDocument) textureImagePath(textureIndex int) (string, error) {
	if textureIndex < 0 || textureIndex >= len(d.Textures) {
		return "", fmt.Errorf("texture index %d out of range", textureIndex)
	}
	return d.imagePath(d.Textures[textureIndex].Source)
}

// accessorBytes returns the raw window an accessor reads from.
func (d *gltfDocument) accessorBytes(accessor gltfAccessor) ([]byte, int, error) {
	if accessor.BufferView < 0 || accessor.BufferView >= len(d.BufferViews) {
		return nil, 0, fmt.Errorf("buffer view %d out of range", accessor.BufferView)
	}
	view := d.BufferViews[accessor.BufferView]
	if view.Buffer < 0 || view.Buffer >= len(d.binData) {
		return nil, 0, fmt.Errorf("buffer %d out of range", view.Buffer)
	}
	data := d.binData[view.Buffer]
	start := view.ByteOffset + accessor.ByteOffset
	end := view.ByteOffset + view.ByteLength
	if start > len(data) || end > len(data) || start > end {
		return nil, 0, fmt.Errorf("buffer view window [%d, %d) outside %d bytes", start, end, len(data))
	}
	return data[start:end], view.ByteStride, nil
}

// floatAttribute reads a float accessor of the given component arity into a
// flat slice.
func (d *gltfDocument) floatAttribute(index, components int) ([]float32, error) {
	if index < 0 || index >= len(d.Accessors) {
		return nil, fmt.Errorf("accessor %d out of range", index)
	}
	accessor := d.Accessors[index]
	if accessor.ComponentType != gltfComponentFloat32 {
		return nil, fmt.Errorf("accessor %d: component type %d, want float", index, accessor.ComponentType)
	}
	wantType := map[int]string{2: "VEC2", 3: "VEC3"}[components]
	if accessor.Type != wantType {
		return nil, fmt.Errorf("accessor %d: type %s, want %s", index, accessor.Type, wantType)
	}

	data, stride, err := d.accessorBytes(accessor)
	if err != nil {
		return nil, err
	}
	elementSize := components * 4
	if stride == 0 {
		stride = elementSize
	}

	values := make([]float32, 0, accessor.Count*components)
	for i := 0; i < accessor.Count; i++ {
		offset := i * stride
		if offset+elementSize > len(data) {
			return nil, fmt.Errorf("accessor %d: element %d past end of view", index, i)
		}
		for c := 0; c < components; c++ {
			bits := binary.LittleEndian.Uint32(data[offset+c*4:])
			values = append(values, math.Float32frombits(bits))
		}
	}
	return values, nil
}

// indices reads a scalar u16 or u32 accessor as u32 indices.
func (d *gltfDocument) indices(index int) ([]uint32, error) {
	if index < 0 || index >= len(d.Accessors) {
		return nil, fmt.Errorf("accessor %d out of range", index)
	}
	accessor := d.Accessors[index]
	if accessor.Type != "SCALAR" {
		return nil, fmt.Errorf("accessor %d: type %s, want SCALAR", index, accessor.Type)
	}

	data, stride, err := d.accessorBytes(accessor)
	if err != nil {
		return nil, err
	}

	var elementSize int
	switch accessor.ComponentType {
	case gltfComponentUint16:
		elementSize = 2
	case gltfComponentUint32:
		elementSize = 4
	default:
		return nil, fmt.Errorf("accessor %d: unsupported index component type %d", index, accessor.ComponentType)
	}
	if stride == 0 {
		stride = elementSize
	}

	values := make([]uint32, 0, accessor.Count)
	for i := 0; i < accessor.Count; i++ {
		offset := i * stride
		if offset+elementSize > len(data) {
			return nil, fmt.Errorf("accessor %d: element %d past end of view", index, i)
		}
		if elementSize == 2 {
			values = append(values, uint32(binary.LittleEndian.Uint16(data[offset:])))
		} else {
			values = append(values, binary.LittleEndian.Uint32(data[offset:]))
		}
	}
	return values, nil
}
