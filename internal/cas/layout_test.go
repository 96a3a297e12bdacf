package cas_test

import (
	"bytes"
	"testing"

	"kiln/internal/cas"
)

func TestPayloadRoundTrip(t *testing.T) {
	layouts := []cas.SubresourceLayout{
		{OffsetBytes: 0, RowPitchBytes: 256, SizeBytes: 1024},
		{OffsetBytes: 1024, RowPitchBytes: 256, SizeBytes: 256},
	}
	blob := bytes.Repeat([]byte{0xAB}, 1280)

	encoded, err := cas.EncodePayload(cas.PackingAligned, 0x3, layouts, blob)
	if err != nil {
		t.Fatalf("EncodePayload failed: %v", err)
	}

	header, gotLayouts, gotBlob, err := cas.DecodePayload(encoded)
	if err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if header.Magic != cas.PayloadMagic {
		t.Fatalf("magic %#x", header.Magic)
	}
	if header.PackingPolicy != cas.PackingAligned || header.Flags != 0x3 {
		t.Fatalf("policy/flags mismatch: %v %#x", header.PackingPolicy, header.Flags)
	}
	if header.SubresourceCount != 2 || len(gotLayouts) != 2 {
		t.Fatalf("subresource count %d / %d", header.SubresourceCount, len(gotLayouts))
	}
	if gotLayouts[1] != layouts[1] {
		t.Fatalf("layout mismatch %+v", gotLayouts[1])
	}
	if !bytes.Equal(gotBlob, blob) {
		t.Fatal("blob corrupted in round trip")
	}
	if header.ContentHash != cas.HashPayload(blob) {
		t.Fatal("content hash must cover the blob bytes")
	}
}

func TestContentHashIsPure(t *testing.T) {
	payload := []byte("cooked payload bytes")
	if cas.HashPayload(payload) != cas.HashPayload(append([]byte(nil), payload...)) {
		t.Fatal("identical inputs must hash identically")
	}
	mutated := append([]byte(nil), payload...)
	mutated[3] ^= 1
	if cas.HashPayload(payload) == cas.HashPayload(mutated) {
		t.Fatal("one changed byte must change the hash")
	}
}

func TestDecodeRejectsCorruptPayloads(t *testing.T) {
	encoded, err := cas.EncodePayload(cas.PackingTight, 0, nil, []byte("data"))
	if err != nil {
		t.Fatal(err)
	}

	t.Run("truncated", func(t *testing.T) {
		if _, _, _, err := cas.DecodePayload(encoded[:10]); err == nil {
			t.Fatal("truncated payload must fail")
		}
	})
	t.Run("bad magic", func(t *testing.T) {
		corrupt := append([]byte(nil), encoded...)
		corrupt[0] ^= 0xFF
		if _, _, _, err := cas.DecodePayload(corrupt); err == nil {
			t.Fatal("bad magic must fail")
		}
	})
	t.Run("size mismatch", func(t *testing.T) {
		if _, _, _, err := cas.DecodePayload(append(encoded, 0x00)); err == nil {
			t.Fatal("size mismatch must fail")
		}
	})
}

func TestAlignRowPitch(t *testing.T) {
	if got := cas.AlignRowPitch(cas.PackingAligned, 100); got != 256 {
		t.Fatalf("aligned pitch = %d, want 256", got)
	}
	if got := cas.AlignRowPitch(cas.PackingAligned, 256); got != 256 {
		t.Fatalf("aligned pitch = %d, want 256", got)
	}
	if got := cas.AlignRowPitch(cas.PackingTight, 100); got != 100 {
		t.Fatalf("tight pitch = %d, want 100", got)
	}
}

func TestSignatureBuilderDeterminism(t *testing.T) {
	build := func() cas.Signature {
		return cas.NewSignatureBuilder().
			WriteString("textures/wall_albedo.png").
			WriteUint32(2048).
			WriteUint32(2048).
			WriteUint8(7).
			Sum()
	}
	if build() != build() {
		t.Fatal("signature must be deterministic")
	}
	other := cas.NewSignatureBuilder().
		WriteString("textures/wall_albedo.png").
		WriteUint32(2048).
		WriteUint32(1024).
		WriteUint8(7).
		Sum()
	if build() == other {
		t.Fatal("different defining fields must produce different signatures")
	}
}
