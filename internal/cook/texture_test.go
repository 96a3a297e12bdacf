package cook_test

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"kiln/internal/asyncio"
	"kiln/internal/cas"
	"kiln/internal/cook"
	"kiln/internal/logging"
	"kiln/internal/plan"
)

func newTestEnv(t *testing.T) *cook.Environment {
	t.Helper()
	logger := logging.NewNop()
	writer := asyncio.NewWriter(4, logger)
	dir := t.TempDir()
	t.Cleanup(writer.Close)
	env := cook.NewEnvironment(dir, 256, cas.PackingAligned, writer, logger)
	return env
}

func writeTestPNG(t *testing.T, dir, name string, width, height int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 17), G: uint8(y * 31), B: 0x40, A: 0xFF})
		}
	}
	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	if err := png.Encode(file, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("close png: %v", err)
	}
	return path
}

func textureStep(id plan.ItemID, name string, payload *cook.TexturePayload) cook.WorkItem {
	return cook.WorkItem{Step: plan.Step{
		ID:      id,
		Kind:    plan.KindTextureResource,
		Name:    name,
		Payload: payload,
	}}
}

func TestTextureCookerCooksAndDeduplicates(t *testing.T) {
	env := newTestEnv(t)
	cooker := cook.Cookers(env)[plan.KindTextureResource]
	source := writeTestPNG(t, t.TempDir(), "albedo.png", 4, 4)

	first := cooker.Cook(context.Background(), textureStep(0, "bricks_albedo", &cook.TexturePayload{
		Source:     source,
		Intent:     "albedo",
		ColorSpace: "srgb",
		MipPolicy:  "full",
	}))
	if first.Failed() {
		t.Fatalf("first cook failed: %v", first.Diagnostics)
	}
	if first.ResourceIndex != 1 {
		t.Fatalf("first user texture index = %d, want 1 after the fallback", first.ResourceIndex)
	}

	second := cooker.Cook(context.Background(), textureStep(1, "bricks_albedo_copy", &cook.TexturePayload{
		Source:     source,
		Intent:     "albedo",
		ColorSpace: "srgb",
		MipPolicy:  "full",
	}))
	if second.Failed() {
		t.Fatalf("second cook failed: %v", second.Diagnostics)
	}
	if second.ResourceIndex != first.ResourceIndex {
		t.Fatalf("identical sources got indices %d and %d", first.ResourceIndex, second.ResourceIndex)
	}
	if second.Signature != first.Signature {
		t.Fatal("identical sources produced different signatures")
	}
	if got := env.Textures.Len(); got != 2 {
		t.Fatalf("texture table has %d entries, want 2 (fallback + one user texture)", got)
	}

	entry, ok := env.Textures.Lookup(first.Signature)
	if !ok {
		t.Fatal("cooked signature missing from texture table")
	}
	descriptor := entry.Descriptor.(cook.TextureDescriptor)
	if descriptor.Width != 4 || descriptor.Height != 4 {
		t.Fatalf("descriptor dimensions = %dx%d, want 4x4", descriptor.Width, descriptor.Height)
	}
	if descriptor.MipCount != 3 {
		t.Fatalf("mip count = %d, want 3 for a 4x4 full chain", descriptor.MipCount)
	}
}

func TestTextureCookerWritesPayloadToDataFile(t *testing.T) {
	env := newTestEnv(t)
	cooker := cook.Cookers(env)[plan.KindTextureResource]
	source := writeTestPNG(t, t.TempDir(), "data.png", 2, 2)

	result := cooker.Cook(context.Background(), textureStep(0, "lut", &cook.TexturePayload{
		Source:     source,
		Intent:     "data",
		ColorSpace: "linear",
		MipPolicy:  "none",
	}))
	if result.Failed() {
		t.Fatalf("cook failed: %v", result.Diagnostics)
	}
	if err := env.Writer.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(env.OutputRoot, cook.TextureDataFile))
	if err != nil {
		t.Fatalf("read data file: %v", err)
	}
	entry, _ := env.Textures.Lookup(result.Signature)
	payload := raw[entry.Reservation.AlignedOffset : entry.Reservation.AlignedOffset+entry.Size]
	header, layouts, blob, err := cas.DecodePayload(payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if header.SubresourceCount != 1 {
		t.Fatalf("subresource count = %d, want 1", header.SubresourceCount)
	}
	if layouts[0].RowPitchBytes != 256 {
		t.Fatalf("aligned row pitch = %d, want 256", layouts[0].RowPitchBytes)
	}
	if want := cas.HashPayload(blob); header.ContentHash != want {
		t.Fatal("payload content hash does not match blob")
	}
}

func TestTextureCookerValidation(t *testing.T) {
	env := newTestEnv(t)
	cooker := cook.Cookers(env)[plan.KindTextureResource]
	source := writeTestPNG(t, t.TempDir(), "tex.png", 2, 2)

	cases := []struct {
		name     string
		payload  *cook.TexturePayload
		wantCode string
	}{
		{
			name:     "unknown intent",
			payload:  &cook.TexturePayload{Source: source, Intent: "glow"},
			wantCode: cook.CodeValidation,
		},
		{
			name:     "normal map in srgb",
			payload:  &cook.TexturePayload{Source: source, Intent: "normal", ColorSpace: "srgb"},
			wantCode: cook.CodeValidation,
		},
		{
			name:     "unsupported mip filter",
			payload:  &cook.TexturePayload{Source: source, MipFilter: "kaiser"},
			wantCode: cook.CodeUnsupported,
		},
		{
			name:     "missing source",
			payload:  &cook.TexturePayload{Source: filepath.Join(t.TempDir(), "nope.png")},
			wantCode: cook.CodeIOFailure,
		},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := cooker.Cook(context.Background(), textureStep(plan.ItemID(i), tc.name, tc.payload))
			if !result.Failed() {
				t.Fatal("cook succeeded, want failure")
			}
			if result.ResourceIndex != -1 {
				t.Fatalf("failed result carries index %d", result.ResourceIndex)
			}
			if len(result.Diagnostics) == 0 || result.Diagnostics[0].Code != tc.wantCode {
				t.Fatalf("diagnostics = %v, want code %s", result.Diagnostics, tc.wantCode)
			}
		})
	}
}

func TestTextureCookerCancelledContext(t *testing.T) {
	env := newTestEnv(t)
	cooker := cook.Cookers(env)[plan.KindTextureResource]
	source := writeTestPNG(t, t.TempDir(), "tex.png", 2, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := cooker.Cook(ctx, textureStep(0, "tex", &cook.TexturePayload{Source: source}))
	if !result.Cancelled {
		t.Fatal("result not marked cancelled")
	}
	if !result.Failed() {
		t.Fatal("cancelled result must count as failed")
	}
}

func TestFallbackTextureIsEmittedOnce(t *testing.T) {
	env := newTestEnv(t)

	first, err := env.FallbackTexture()
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	second, err := env.FallbackTexture()
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if first.Index != 0 || second.Index != 0 {
		t.Fatalf("fallback indices = %d, %d, want 0", first.Index, second.Index)
	}
	if env.Textures.Len() != 1 {
		t.Fatalf("texture table has %d entries, want 1", env.Textures.Len())
	}
}
