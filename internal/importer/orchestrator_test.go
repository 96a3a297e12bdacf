package importer_test

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"kiln/internal/catalog"
	"kiln/internal/cook"
	"kiln/internal/importer"
	"kiln/internal/logging"
	"kiln/internal/manifest"
	"kiln/internal/testsupport"
)

// writeSceneFixture writes a one-quad glTF with a textured material.
func writeSceneFixture(t *testing.T, dir string) string {
	t.Helper()

	var bin []byte
	for _, v := range []float32{0, 0, 0, 1, 0, 0, 1, 1, 0, 0, 1, 0} {
		bin = binary.LittleEndian.AppendUint32(bin, math.Float32bits(v))
	}
	for _, index := range []uint16{0, 1, 2, 0, 2, 3} {
		bin = binary.LittleEndian.AppendUint16(bin, index)
	}
	testsupport.WritePNG(t, filepath.Join(dir, "crate.png"), 2, 2)

	doc := fmt.Sprintf(`{
  "asset": {"version": "2.0"},
  "scene": 0,
  "scenes": [{"nodes": [0]}],
  "nodes": [{"name": "crate", "mesh": 0}],
  "meshes": [{
    "name": "crate_mesh",
    "primitives": [{"attributes": {"POSITION": 0}, "indices": 1, "material": 0}]
  }],
  "materials": [{
    "name": "crate_mat",
    "pbrMetallicRoughness": {"baseColorTexture": {"index": 0}}
  }],
  "textures": [{"source": 0}],
  "images": [{"uri": "crate.png"}],
  "buffers": [{"uri": "data:application/octet-stream;base64,%s", "byteLength": %d}],
  "bufferViews": [
    {"buffer": 0, "byteOffset": 0, "byteLength": 48},
    {"buffer": 0, "byteOffset": 48, "byteLength": 12}
  ],
  "accessors": [
    {"bufferView": 0, "componentType": 5126, "count": 4, "type": "VEC3"},
    {"bufferView": 1, "componentType": 5123, "count": 6, "type": "SCALAR"}
  ]
}`, base64.StdEncoding.EncodeToString(bin), len(bin))

	path := filepath.Join(dir, "crate.gltf")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write gltf: %v", err)
	}
	return path
}

func textureManifest(t *testing.T, sources ...string) *manifest.Manifest {
	t.Helper()
	m := &manifest.Manifest{Version: 1}
	for _, source := range sources {
		m.Jobs = append(m.Jobs, manifest.Job{
			Type:   "texture",
			Source: source,
			Name:   filepath.Base(source),
			Tuning: manifest.Tuning{Intent: "albedo", ColorSpace: "srgb"},
		})
	}
	return m
}

func waitReport(t *testing.T, reports <-chan importer.Report) importer.Report {
	t.Helper()
	select {
	case report := <-reports:
		return report
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for job completion")
		return importer.Report{}
	}
}

func TestSubmitImportCompletesJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	source := testsupport.WritePNG(t, filepath.Join(t.TempDir(), "bricks.png"), 4, 4)

	o := importer.New(cfg, logging.NewNop())
	defer o.Shutdown()

	reports := make(chan importer.Report, 1)
	var progressSeen bool
	id := o.SubmitImport(importer.Request{Manifest: textureManifest(t, source)}, importer.Callbacks{
		OnComplete: func(_ importer.JobID, report importer.Report) { reports <- report },
		OnProgress: func(importer.ProgressEvent) { progressSeen = true },
	})
	if id == importer.InvalidJob {
		t.Fatal("submission rejected")
	}

	report := waitReport(t, reports)
	if !report.Success {
		t.Fatalf("job failed: %v", report.Diagnostics)
	}
	if report.CookedRoot != cfg.Paths.OutputRoot {
		t.Fatalf("cooked root = %s, want %s", report.CookedRoot, cfg.Paths.OutputRoot)
	}
	if !progressSeen {
		t.Fatal("no progress callback fired")
	}
	if o.IsJobActive(id) {
		t.Fatal("finished job still active")
	}

	// Cooked artifacts landed under the output root.
	if _, err := os.Stat(filepath.Join(cfg.Paths.OutputRoot, cook.TextureDataFile)); err != nil {
		t.Fatalf("texture data file missing: %v", err)
	}
}

func TestSubmitImportRejectedAfterShutdownRequest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	o := importer.New(cfg, logging.NewNop())
	defer o.Shutdown()

	o.RequestShutdown()
	id := o.SubmitImport(importer.Request{Manifest: &manifest.Manifest{Version: 1, Jobs: []manifest.Job{
		{Type: "texture", Source: "a.png", Name: "a"},
	}}}, importer.Callbacks{})
	if id != importer.InvalidJob {
		t.Fatalf("submission after shutdown returned %d, want InvalidJob", id)
	}
}

func TestCancelQueuedJobInvokesCancelCallback(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	source := testsupport.WritePNG(t, filepath.Join(t.TempDir(), "a.png"), 2, 2)

	o := importer.New(cfg, logging.NewNop())
	defer o.Shutdown()

	// Park the dedicated goroutine inside job 1's completion callback so
	// job 2 stays queued while we cancel it.
	release := make(chan struct{})
	firstDone := make(chan struct{})
	first := o.SubmitImport(importer.Request{Manifest: textureManifest(t, source)}, importer.Callbacks{
		OnComplete: func(importer.JobID, importer.Report) {
			close(firstDone)
			<-release
		},
	})
	if first == importer.InvalidJob {
		t.Fatal("first submission rejected")
	}
	select {
	case <-firstDone:
	case <-time.After(10 * time.Second):
		t.Fatal("first job never completed")
	}

	cancelled := make(chan importer.JobID, 1)
	second := o.SubmitImport(importer.Request{Manifest: textureManifest(t, source)}, importer.Callbacks{
		OnCancel: func(id importer.JobID) { cancelled <- id },
		OnComplete: func(importer.JobID, importer.Report) {
			t.Error("cancelled job completed")
		},
	})
	if second == importer.InvalidJob {
		t.Fatal("second submission rejected")
	}
	if got := o.PendingJobCount(); got != 1 {
		t.Fatalf("pending jobs = %d, want 1", got)
	}
	if !o.CancelJob(second) {
		t.Fatal("cancel of queued job returned false")
	}
	close(release)

	select {
	case id := <-cancelled:
		if id != second {
			t.Fatalf("cancel callback got job %d, want %d", id, second)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("cancel callback never fired")
	}
	if o.CancelJob(second) {
		t.Fatal("cancelling a finished job returned true")
	}
}

func TestJobFailureCarriesDiagnostics(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	missing := filepath.Join(t.TempDir(), "missing.png")

	o := importer.New(cfg, logging.NewNop())
	defer o.Shutdown()

	reports := make(chan importer.Report, 1)
	id := o.SubmitImport(importer.Request{Manifest: textureManifest(t, missing)}, importer.Callbacks{
		OnComplete: func(_ importer.JobID, report importer.Report) { reports <- report },
	})
	if id == importer.InvalidJob {
		t.Fatal("submission rejected")
	}

	report := waitReport(t, reports)
	if report.Success {
		t.Fatal("job with a broken source reported success")
	}
	found := false
	for _, diag := range report.Diagnostics {
		if diag.Code == cook.CodeIOFailure {
			found = true
		}
	}
	if !found {
		t.Fatalf("diagnostics = %v, want an io_failure entry", report.Diagnostics)
	}
}

func TestCatalogRecordsRunsAndDeduplicatesAcrossJobs(t *testing.T) {
	store := testsupport.MustOpenStore(t)
	cfg := testsupport.NewConfig(t, testsupport.WithCatalog(store.Path()))
	source := testsupport.WritePNG(t, filepath.Join(t.TempDir(), "bricks.png"), 4, 4)

	o := importer.New(cfg, logging.NewNop(), importer.WithCatalog(store))
	defer o.Shutdown()

	run := func() importer.Report {
		reports := make(chan importer.Report, 1)
		id := o.SubmitImport(importer.Request{Manifest: textureManifest(t, source)}, importer.Callbacks{
			OnComplete: func(_ importer.JobID, report importer.Report) { reports <- report },
		})
		if id == importer.InvalidJob {
			t.Fatal("submission rejected")
		}
		return waitReport(t, reports)
	}

	if report := run(); !report.Success {
		t.Fatalf("first run failed: %v", report.Diagnostics)
	}
	firstInfo, err := os.Stat(filepath.Join(cfg.Paths.OutputRoot, cook.TextureDataFile))
	if err != nil {
		t.Fatalf("stat data file: %v", err)
	}

	if report := run(); !report.Success {
		t.Fatalf("second run failed: %v", report.Diagnostics)
	}
	// The second run restored the catalog entries and reused the recorded
	// placements instead of appending new payloads.
	secondInfo, err := os.Stat(filepath.Join(cfg.Paths.OutputRoot, cook.TextureDataFile))
	if err != nil {
		t.Fatalf("stat data file: %v", err)
	}
	if secondInfo.Size() > firstInfo.Size() {
		t.Fatalf("data file grew from %d to %d across identical runs", firstInfo.Size(), secondInfo.Size())
	}

	records, err := store.Resources(context.Background(), catalog.KindTexture)
	if err != nil {
		t.Fatalf("catalog resources: %v", err)
	}
	// Fallback plus the one cooked texture.
	if len(records) != 2 {
		t.Fatalf("catalog texture records = %d, want 2", len(records))
	}

	jobs, err := store.Jobs(context.Background(), 10)
	if err != nil {
		t.Fatalf("catalog jobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("catalog job records = %d, want 2", len(jobs))
	}
	for _, job := range jobs {
		if job.Status != catalog.JobSucceeded {
			t.Fatalf("job status = %s, want succeeded", job.Status)
		}
	}
}

func TestEndToEndGLTFImport(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := t.TempDir()
	gltfPath := writeSceneFixture(t, dir)

	o := importer.New(cfg, logging.NewNop())
	defer o.Shutdown()

	reports := make(chan importer.Report, 1)
	id := o.SubmitImport(importer.Request{Manifest: &manifest.Manifest{
		Version: 1,
		Jobs: []manifest.Job{{
			Type:   "gltf",
			Source: gltfPath,
			Name:   "crate",
			Tuning: manifest.Tuning{Compression: "zstd"},
		}},
	}}, importer.Callbacks{
		OnComplete: func(_ importer.JobID, report importer.Report) { reports <- report },
	})
	if id == importer.InvalidJob {
		t.Fatal("submission rejected")
	}

	report := waitReport(t, reports)
	if !report.Success {
		t.Fatalf("gltf import failed: %v", report.Diagnostics)
	}
	for _, artifact := range []string{
		cook.TextureDataFile,
		cook.BufferDataFile,
		filepath.Join("crate", "crate_mat.material.json"),
		filepath.Join("crate", "crate_mesh.geometry.json"),
		filepath.Join("crate", "scene.scene.json"),
	} {
		if _, err := os.Stat(filepath.Join(cfg.Paths.OutputRoot, artifact)); err != nil {
			t.Fatalf("artifact %s missing: %v", artifact, err)
		}
	}
}
