package manifest_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"kiln/internal/manifest"
)

const validManifest = `{
  "version": 1,
  "thread_pool_size": 8,
  "concurrency": {
    "texture": {"workers": 4, "queue_capacity": 32}
  },
  "defaults": {
    "color_space": "srgb",
    "mip_policy": "full",
    "compression": "zstd"
  },
  "jobs": [
    {"type": "texture", "source": "textures/bricks.png", "intent": "albedo"},
    {"type": "texture", "source": "textures/bricks_n.png", "intent": "normal", "color_space": "linear"},
    {
      "type": "gltf",
      "source": "models/crate.gltf",
      "prune_empty_nodes": true,
      "overrides": {
        "images/crate_data.png": {"intent": "data", "color_space": "linear"}
      }
    }
  ]
}`

func TestParseMergesDefaultsIntoJobs(t *testing.T) {
	m, err := manifest.Parse([]byte(validManifest))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.ThreadPoolSize != 8 {
		t.Fatalf("thread_pool_size = %d, want 8", m.ThreadPoolSize)
	}
	if c := m.Concurrency["texture"]; c.Workers != 4 || c.QueueCapacity != 32 {
		t.Fatalf("texture concurrency = %+v", c)
	}

	first := m.Jobs[0]
	if first.ColorSpace != "srgb" || first.MipPolicy != "full" || first.Compression != "zstd" {
		t.Fatalf("defaults not merged: %+v", first.Tuning)
	}
	if first.Intent != "albedo" {
		t.Fatalf("job intent = %q", first.Intent)
	}
	if first.Name != "bricks" {
		t.Fatalf("derived name = %q, want bricks", first.Name)
	}

	// A job field set explicitly wins over the default.
	second := m.Jobs[1]
	if second.ColorSpace != "linear" {
		t.Fatalf("override did not win: color_space = %q", second.ColorSpace)
	}
}

func TestTuningForAppliesPerSourceOverride(t *testing.T) {
	m, err := manifest.Parse([]byte(validManifest))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	gltf := m.Jobs[2]

	embedded := gltf.TuningFor("images/crate_data.png")
	if embedded.Intent != "data" || embedded.ColorSpace != "linear" {
		t.Fatalf("override tuning = %+v", embedded)
	}
	// Fields the override leaves unset inherit from the job.
	if embedded.Compression != "zstd" {
		t.Fatalf("inherited compression = %q, want zstd", embedded.Compression)
	}

	plain := gltf.TuningFor("images/other.png")
	if plain.Intent != "" || plain.Compression != "zstd" {
		t.Fatalf("non-overridden tuning = %+v", plain)
	}
}

func TestParseRejections(t *testing.T) {
	cases := []struct {
		name  string
		input string
		check func(t *testing.T, err error)
	}{
		{
			name:  "wrong version",
			input: `{"version": 2, "jobs": [{"type": "texture", "source": "a.png"}]}`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, manifest.ErrUnsupportedVersion) {
					t.Fatalf("err = %v, want ErrUnsupportedVersion", err)
				}
			},
		},
		{
			name:  "no jobs",
			input: `{"version": 1, "jobs": []}`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, manifest.ErrNoJobs) {
					t.Fatalf("err = %v, want ErrNoJobs", err)
				}
			},
		},
		{
			name:  "unknown job type",
			input: `{"version": 1, "jobs": [{"type": "wav", "source": "a.wav"}]}`,
			check: func(t *testing.T, err error) {
				var verr *manifest.ValidationError
				if !errors.As(err, &verr) || verr.Field != "type" {
					t.Fatalf("err = %v, want type validation error", err)
				}
			},
		},
		{
			name:  "empty source",
			input: `{"version": 1, "jobs": [{"type": "texture", "source": " "}]}`,
			check: func(t *testing.T, err error) {
				var verr *manifest.ValidationError
				if !errors.As(err, &verr) || verr.Field != "source" || verr.Job != 0 {
					t.Fatalf("err = %v, want jobs[0].source validation error", err)
				}
			},
		},
		{
			name:  "bad enum",
			input: `{"version": 1, "jobs": [{"type": "texture", "source": "a.png", "color_space": "cmyk"}]}`,
			check: func(t *testing.T, err error) {
				var verr *manifest.ValidationError
				if !errors.As(err, &verr) || verr.Field != "color_space" {
					t.Fatalf("err = %v, want color_space validation error", err)
				}
			},
		},
		{
			name:  "bc7 quality out of range",
			input: `{"version": 1, "jobs": [{"type": "texture", "source": "a.png", "bc7_quality": 9}]}`,
			check: func(t *testing.T, err error) {
				var verr *manifest.ValidationError
				if !errors.As(err, &verr) || verr.Field != "bc7_quality" {
					t.Fatalf("err = %v, want bc7_quality validation error", err)
				}
			},
		},
		{
			name:  "unknown field",
			input: `{"version": 1, "jobs": [{"type": "texture", "source": "a.png", "sharpen": true}]}`,
			check: func(t *testing.T, err error) {
				if err == nil {
					t.Fatal("unknown field accepted")
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := manifest.Parse([]byte(tc.input))
			if err == nil {
				t.Fatal("parse succeeded, want error")
			}
			tc.check(t, err)
		})
	}
}

func TestLoadReadsFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "import.json")
	if err := os.WriteFile(path, []byte(validManifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	m, err := manifest.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(m.Jobs) != 3 {
		t.Fatalf("job count = %d, want 3", len(m.Jobs))
	}

	if _, err := manifest.Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("load of missing file succeeded")
	}
}
