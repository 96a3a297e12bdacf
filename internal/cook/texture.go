package cook

import (
	"bytes"
	"context"
	"image"
	"image/draw"
	"os"

	// Stdlib and x/image decoders the texture cooker accepts.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"kiln/internal/cas"
)

// maxTextureDimension bounds accepted source images.
const maxTextureDimension = 16384

// TextureCooker decodes a source image, validates it, optionally builds a
// mip chain, and emits the packed payload through the texture table.
type TextureCooker struct {
	base
	env *Environment
}

func (c *TextureCooker) Cook(ctx context.Context, item WorkItem) WorkResult {
	payload, ok := item.Step.Payload.(*TexturePayload)
	if !ok {
		return failedResult(item, Errorf(CodeValidation, "", item.Step.Name, "payload is not a texture payload"))
	}

	if diag, ok := validateTexturePayload(payload, item.Step.Name); !ok {
		return failedResult(item, diag)
	}

	source, err := os.ReadFile(payload.Source)
	if err != nil {
		return failedResult(item, Errorf(CodeIOFailure, payload.Source, item.Step.Name, "read source: %v", err))
	}

	img, format, err := image.Decode(bytes.NewReader(source))
	if err != nil {
		return failedResult(item, Errorf(CodeDecodeFailed, payload.Source, item.Step.Name, "decode image: %v", err))
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 || width > maxTextureDimension || height > maxTextureDimension {
		return failedResult(item, Errorf(CodeValidation, payload.Source, item.Step.Name,
			"unsupported dimensions %dx%d (max %d)", width, height, maxTextureDimension))
	}

	if err := ctx.Err(); err != nil {
		return cancelledResult(item)
	}

	mips := buildMipChain(toRGBA(img), payload.MipPolicy == "full")
	layouts, blob := packSubresources(mips, c.env.Packing)

	encoded, err := cas.EncodePayload(c.env.Packing, payload.ContentFlags, layouts, blob)
	if err != nil {
		return failedResult(item, Errorf(CodeValidation, payload.Source, item.Step.Name, "encode payload: %v", err))
	}

	descriptor := TextureDescriptor{
		Width:      uint32(width),
		Height:     uint32(height),
		MipCount:   uint32(len(mips)),
		Format:     "rgba8",
		ColorSpace: payload.ColorSpace,
		Intent:     payload.Intent,
	}
	sig := textureSignature(payload, descriptor, source)

	entry, _, err := c.env.emitTexture(sig, descriptor, encoded)
	if err != nil {
		return failedResult(item, Errorf(CodeReservationOverflow, payload.Source, item.Step.Name, "emit payload: %v", err))
	}

	result := WorkResult{
		ID:            item.Step.ID,
		Kind:          item.Step.Kind,
		Name:          item.Step.Name,
		Success:       true,
		ResourceIndex: entry.Index,
		Signature:     sig,
	}
	if format != "png" && payload.Intent == "normal" {
		result.Diagnostics = append(result.Diagnostics, Warnf(CodeValidation, payload.Source, item.Step.Name,
			"normal maps from lossy %s sources may reconstruct poorly", format))
	}
	return result
}

func validateTexturePayload(payload *TexturePayload, objectPath string) (Diagnostic, bool) {
	switch payload.Intent {
	case "albedo", "normal", "data", "":
	default:
		return Errorf(CodeValidation, payload.Source, objectPath, "unknown intent %q", payload.Intent), false
	}
	switch payload.ColorSpace {
	case "srgb", "linear", "":
	default:
		return Errorf(CodeValidation, payload.Source, objectPath, "unknown color space %q", payload.ColorSpace), false
	}
	// Normal and data textures encode vectors or raw values; sRGB transfer
	// would corrupt them.
	if (payload.Intent == "normal" || payload.Intent == "data") && payload.ColorSpace == "srgb" {
		return Errorf(CodeValidation, payload.Source, objectPath,
			"intent %q requires linear color space", payload.Intent), false
	}
	switch payload.MipPolicy {
	case "full", "none", "":
	default:
		return Errorf(CodeValidation, payload.Source, objectPath, "unknown mip policy %q", payload.MipPolicy), false
	}
	if payload.MipFilter != "" && payload.MipFilter != "box" {
		return Errorf(CodeUnsupported, payload.Source, objectPath, "unsupported mip filter %q", payload.MipFilter), false
	}
	return Diagnostic{}, true
}

// textureSignature derives the dedup key from the descriptor's defining
// fields plus the source content, excluding the payload content hash.
func textureSignature(payload *TexturePayload, descriptor TextureDescriptor, source []byte) cas.Signature {
	sourceHash := cas.HashPayload(source)
	return cas.NewSignatureBuilder().
		WriteString("texture").
		WriteBytes(sourceHash[:]).
		WriteUint32(descriptor.Width).
		WriteUint32(descriptor.Height).
		WriteUint32(descriptor.MipCount).
		WriteString(descriptor.Format).
		WriteString(descriptor.ColorSpace).
		WriteString(descriptor.Intent).
		WriteUint8(payload.ContentFlags).
		Sum()
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	return rgba
}

// buildMipChain returns the base level plus, when requested, box-filtered
// halvings down to 1×1.
func buildMipChain(base *image.RGBA, full bool) []*image.RGBA {
	mips := []*image.RGBA{base}
	if !full {
		return mips
	}
	current := base
	for {
		b := current.Bounds()
		w, h := b.Dx(), b.Dy()
		if w == 1 && h == 1 {
			return mips
		}
		next := downsampleBox(current)
		mips = append(mips, next)
		current = next
	}
}

func downsampleBox(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	w, h := max(b.Dx()/2, 1), max(b.Dy()/2, 1)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum [4]int
			count := 0
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					sx, sy := x*2+dx, y*2+dy
					if sx >= b.Dx() || sy >= b.Dy() {
						continue
					}
					offset := src.PixOffset(b.Min.X+sx, b.Min.Y+sy)
					for ch := 0; ch < 4; ch++ {
						sum[ch] += int(src.Pix[offset+ch])
					}
					count++
				}
			}
			offset := dst.PixOffset(x, y)
			for ch := 0; ch < 4; ch++ {
				dst.Pix[offset+ch] = uint8(sum[ch] / count)
			}
		}
	}
	return dst
}

// packSubresources lays mip levels into one blob with policy-dependent row
// pitch.
func packSubresources(mips []*image.RGBA, packing cas.PackingPolicy) ([]cas.SubresourceLayout, []byte) {
	var blob []byte
	layouts := make([]cas.SubresourceLayout, 0, len(mips))
	for _, mip := range mips {
		b := mip.Bounds()
		w, h := b.Dx(), b.Dy()
		tight := w * 4
		pitch := cas.AlignRowPitch(packing, tight)
		offset := len(blob)
		for y := 0; y < h; y++ {
			rowStart := mip.PixOffset(b.Min.X, b.Min.Y+y)
			row := mip.Pix[rowStart : rowStart+tight]
			blob = append(blob, row...)
			if pad := pitch - tight; pad > 0 {
				blob = append(blob, make([]byte, pad)...)
			}
		}
		layouts = append(layouts, cas.SubresourceLayout{
			OffsetBytes:   uint32(offset),
			RowPitchBytes: uint32(pitch),
			SizeBytes:     uint32(pitch * h),
		})
	}
	return layouts, blob
}
