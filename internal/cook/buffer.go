package cook

import (
	"context"
	"math"
	"os"

	"kiln/internal/cas"
)

// BufferCooker compresses a raw blob and emits it through the buffer table.
type BufferCooker struct {
	base
	env *Environment
}

func (c *BufferCooker) Cook(ctx context.Context, item WorkItem) WorkResult {
	payload, ok := item.Step.Payload.(*BufferPayload)
	if !ok {
		return failedResult(item, Errorf(CodeValidation, "", item.Step.Name, "payload is not a buffer payload"))
	}

	data := payload.Data
	if data == nil {
		if payload.Source == "" {
			return failedResult(item, Errorf(CodeValidation, "", item.Step.Name, "buffer has neither inline data nor a source path"))
		}
		read, err := os.ReadFile(payload.Source)
		if err != nil {
			return failedResult(item, Errorf(CodeIOFailure, payload.Source, item.Step.Name, "read source: %v", err))
		}
		data = read
	}
	if len(data) == 0 {
		return failedResult(item, Errorf(CodeValidation, payload.Source, item.Step.Name, "buffer is empty"))
	}
	if len(data) > math.MaxUint32 {
		return failedResult(item, Errorf(CodeValidation, payload.Source, item.Step.Name, "buffer exceeds 4 GiB"))
	}

	if err := ctx.Err(); err != nil {
		return cancelledResult(item)
	}

	entry, sig, err := emitCompressedBuffer(c.env, data, payload.Compression)
	if err != nil {
		return failedResult(item, Errorf(CodeReservationOverflow, payload.Source, item.Step.Name, "emit payload: %v", err))
	}

	return WorkResult{
		ID:            item.Step.ID,
		Kind:          item.Step.Kind,
		Name:          item.Step.Name,
		Success:       true,
		ResourceIndex: entry.Index,
		Signature:     sig,
	}
}

// emitCompressedBuffer compresses data, signs it, and emits one buffer table
// entry. The geometry cooker reuses it for vertex and index blobs.
func emitCompressedBuffer(env *Environment, data []byte, compression Compression) (*cas.Entry, cas.Signature, error) {
	applied, stored, err := Compress(compression, data)
	if err != nil {
		return nil, cas.Signature{}, err
	}
	// The descriptor records the codec actually applied; the signature keys
	// on the requested one so dedup stays deterministic across inputs whose
	// compressibility differs.
	descriptor := BufferDescriptor{
		UncompressedSize: uint32(len(data)),
		StoredSize:       uint32(len(stored)),
		Compression:      applied,
	}
	sig := bufferSignature(data, compression)
	entry, _, err := env.emitBuffer(sig, descriptor, stored)
	if err != nil {
		return nil, cas.Signature{}, err
	}
	return entry, sig, nil
}

// bufferSignature keys on the uncompressed content plus the requested codec,
// so the same blob stored under two codecs stays two distinct entries.
func bufferSignature(data []byte, compression Compression) cas.Signature {
	contentHash := cas.HashPayload(data)
	return cas.NewSignatureBuilder().
		WriteString("buffer").
		WriteBytes(contentHash[:]).
		WriteUint8(byte(compression)).
		Sum()
}
