// Package manifest parses and validates declarative import batches. A
// manifest names the source assets to cook and the tuning each job applies;
// it never decides scheduling, which belongs to the planner and dispatcher.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// SupportedVersion is the only manifest schema version this build reads.
const SupportedVersion = 1

var (
	ErrUnsupportedVersion = errors.New("manifest: unsupported version")
	ErrNoJobs             = errors.New("manifest: no jobs declared")
)

// ValidationError reports one rejected manifest field.
type ValidationError struct {
	Job    int // job index, -1 for top-level fields
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Job < 0 {
		return fmt.Sprintf("manifest: %s: %s", e.Field, e.Detail)
	}
	return fmt.Sprintf("manifest: jobs[%d].%s: %s", e.Job, e.Field, e.Detail)
}

// Concurrency overrides one cooking kind's stage sizing.
type Concurrency struct {
	Workers       int `json:"workers"`
	QueueCapacity int `json:"queue_capacity"`
}

// Tuning carries the kind-specific cook settings a job or the manifest
// defaults may set. Zero values mean "inherit".
type Tuning struct {
	Intent      string `json:"intent,omitempty"`
	ColorSpace  string `json:"color_space,omitempty"`
	OutputFmt   string `json:"output_format,omitempty"`
	DataFormat  string `json:"data_format,omitempty"`
	MipPolicy   string `json:"mip_policy,omitempty"`
	MipFilter   string `json:"mip_filter,omitempty"`
	BC7Quality  int    `json:"bc7_quality,omitempty"`
	Packing     string `json:"packing,omitempty"`
	CubeLayout  string `json:"cube_layout,omitempty"`
	Compression string `json:"compression,omitempty"`

	// Mesh import policies.
	UnitPolicy    string `json:"unit_policy,omitempty"`
	NormalPolicy  string `json:"normal_policy,omitempty"`
	TangentPolicy string `json:"tangent_policy,omitempty"`

	PruneEmptyNodes *bool `json:"prune_empty_nodes,omitempty"`
	ContentFlags    uint8 `json:"content_flags,omitempty"`
}

// Job is one declared import: a source asset plus its tuning. Overrides
// apply per embedded source path for container formats (fbx, gltf).
type Job struct {
	Type   string `json:"type"`
	Source string `json:"source"`
	Name   string `json:"name,omitempty"`
	Tuning
	Overrides map[string]Tuning `json:"overrides,omitempty"`
}

// Manifest is a version-1 import batch.
type Manifest struct {
	Version        int                    `json:"version"`
	ThreadPoolSize int                    `json:"thread_pool_size,omitempty"`
	Concurrency    map[string]Concurrency `json:"concurrency,omitempty"`
	Defaults       Tuning                 `json:"defaults,omitempty"`
	Jobs           []Job                  `json:"jobs"`
}

// Load reads, parses, and validates a manifest file. Job tuning is already
// merged with the manifest defaults on return.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses and validates manifest bytes.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&m); err != nil {
		return nil, fmt.Errorf("manifest: parse: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	for i := range m.Jobs {
		m.Jobs[i].Tuning = mergeTuning(m.Defaults, m.Jobs[i].Tuning)
		if m.Jobs[i].Name == "" {
			m.Jobs[i].Name = deriveName(m.Jobs[i].Source)
		}
	}
	return &m, nil
}

var jobTypes = map[string]bool{"texture": true, "fbx": true, "gltf": true}

func (m *Manifest) validate() error {
	if m.Version != SupportedVersion {
		return fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, m.Version, SupportedVersion)
	}
	if len(m.Jobs) == 0 {
		return ErrNoJobs
	}
	if m.ThreadPoolSize < 0 {
		return &ValidationError{Job: -1, Field: "thread_pool_size", Detail: "must not be negative"}
	}
	for kind, c := range m.Concurrency {
		if c.Workers < 0 || c.QueueCapacity < 0 {
			return &ValidationError{Job: -1, Field: "concurrency." + kind, Detail: "workers and queue_capacity must not be negative"}
		}
	}
	if err := validateTuning(-1, "defaults", m.Defaults); err != nil {
		return err
	}
	for i, job := range m.Jobs {
		if !jobTypes[job.Type] {
			return &ValidationError{Job: i, Field: "type", Detail: fmt.Sprintf("unknown type %q", job.Type)}
		}
		if strings.TrimSpace(job.Source) == "" {
			return &ValidationError{Job: i, Field: "source", Detail: "must not be empty"}
		}
		if err := validateTuning(i, "", job.Tuning); err != nil {
			return err
		}
		for source, tuning := range job.Overrides {
			if err := validateTuning(i, "overrides."+source, tuning); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateTuning(job int, prefix string, t Tuning) error {
	field := func(name string) string {
		if prefix == "" {
			return name
		}
		return prefix + "." + name
	}
	if err := checkEnum(job, field("intent"), t.Intent, "albedo", "normal", "data"); err != nil {
		return err
	}
	if err := checkEnum(job, field("color_space"), t.ColorSpace, "srgb", "linear"); err != nil {
		return err
	}
	if err := checkEnum(job, field("mip_policy"), t.MipPolicy, "full", "none"); err != nil {
		return err
	}
	if err := checkEnum(job, field("mip_filter"), t.MipFilter, "box"); err != nil {
		return err
	}
	if err := checkEnum(job, field("packing"), t.Packing, "aligned", "tight"); err != nil {
		return err
	}
	if err := checkEnum(job, field("compression"), t.Compression, "none", "lz4", "zstd"); err != nil {
		return err
	}
	if err := checkEnum(job, field("cube_layout"), t.CubeLayout, "none", "horizontal_cross", "vertical_cross"); err != nil {
		return err
	}
	if err := checkEnum(job, field("unit_policy"), t.UnitPolicy, "keep", "meters"); err != nil {
		return err
	}
	if err := checkEnum(job, field("normal_policy"), t.NormalPolicy, "keep", "generate"); err != nil {
		return err
	}
	if err := checkEnum(job, field("tangent_policy"), t.TangentPolicy, "keep", "generate", "drop"); err != nil {
		return err
	}
	if t.BC7Quality < 0 || t.BC7Quality > 4 {
		return &ValidationError{Job: job, Field: field("bc7_quality"), Detail: "must be 0 through 4"}
	}
	return nil
}

func checkEnum(job int, fieldName, value string, allowed ...string) error {
	if value == "" {
		return nil
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{
		Job:    job,
		Field:  fieldName,
		Detail: fmt.Sprintf("%q is not one of %s", value, strings.Join(allowed, ", ")),
	}
}

// mergeTuning layers job tuning over the manifest defaults. A job field set
// to its zero value inherits the default.
func mergeTuning(defaults, job Tuning) Tuning {
	merged := job
	if merged.Intent == "" {
		merged.Intent = defaults.Intent
	}
	if merged.ColorSpace == "" {
		merged.ColorSpace = defaults.ColorSpace
	}
	if merged.OutputFmt == "" {
		merged.OutputFmt = defaults.OutputFmt
	}
	if merged.DataFormat == "" {
		merged.DataFormat = defaults.DataFormat
	}
	if merged.MipPolicy == "" {
		merged.MipPolicy = defaults.MipPolicy
	}
	if merged.MipFilter == "" {
		merged.MipFilter = defaults.MipFilter
	}
	if merged.BC7Quality == 0 {
		merged.BC7Quality = defaults.BC7Quality
	}
	if merged.Packing == "" {
		merged.Packing = defaults.Packing
	}
	if merged.CubeLayout == "" {
		merged.CubeLayout = defaults.CubeLayout
	}
	if merged.Compression == "" {
		merged.Compression = defaults.Compression
	}
	if merged.UnitPolicy == "" {
		merged.UnitPolicy = defaults.UnitPolicy
	}
	if merged.NormalPolicy == "" {
		merged.NormalPolicy = defaults.NormalPolicy
	}
	if merged.TangentPolicy == "" {
		merged.TangentPolicy = defaults.TangentPolicy
	}
	if merged.PruneEmptyNodes == nil {
		merged.PruneEmptyNodes = defaults.PruneEmptyNodes
	}
	if merged.ContentFlags == 0 {
		merged.ContentFlags = defaults.ContentFlags
	}
	return merged
}

// TuningFor resolves the effective tuning for one embedded source inside a
// container job, applying its per-source override when present.
func (j Job) TuningFor(embeddedSource string) Tuning {
	override, ok := j.Overrides[embeddedSource]
	if !ok {
		return j.Tuning
	}
	return mergeTuning(j.Tuning, override)
}

// deriveName turns a source path into a stable plan item name.
func deriveName(source string) string {
	name := source
	if idx := strings.LastIndexAny(name, "/\\"); idx >= 0 {
		name = name[idx+1:]
	}
	if idx := strings.LastIndex(name, "."); idx > 0 {
		name = name[:idx]
	}
	return name
}
