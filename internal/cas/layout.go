package cas

import (
	"encoding/binary"
	"fmt"
)

// PayloadMagic identifies a cooked payload header ("KCPD").
const PayloadMagic uint32 = 0x4450434B

// PackingPolicy selects how subresource rows are placed in a payload.
type PackingPolicy uint8

const (
	// PackingAligned pads each subresource row pitch to RowPitchAlignment.
	PackingAligned PackingPolicy = 1
	// PackingTight packs rows back to back.
	PackingTight PackingPolicy = 2
)

// RowPitchAlignment is the row pitch boundary for PackingAligned.
const RowPitchAlignment = 256

// String returns the policy's config-file name.
func (p PackingPolicy) String() string {
	switch p {
	case PackingAligned:
		return "aligned"
	case PackingTight:
		return "tight"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// ParsePackingPolicy parses the config-file form.
func ParsePackingPolicy(value string) (PackingPolicy, error) {
	switch value {
	case "aligned":
		return PackingAligned, nil
	case "tight":
		return PackingTight, nil
	default:
		return 0, fmt.Errorf("unknown packing policy %q", value)
	}
}

// PayloadHeader is the fixed-size prefix of every cooked payload.
type PayloadHeader struct {
	Magic            uint32
	PackingPolicy    PackingPolicy
	Flags            uint8
	SubresourceCount uint16
	TotalPayloadSize uint64
	LayoutsOffset    uint32
	DataOffset       uint32
	ContentHash      [32]byte
}

// SubresourceLayout locates one subresource inside a payload's data section.
type SubresourceLayout struct {
	OffsetBytes   uint32
	RowPitchBytes uint32
	SizeBytes     uint32
}

const (
	headerSize     = 4 + 1 + 1 + 2 + 8 + 4 + 4 + 32
	layoutTableRow = 4 + 4 + 4
)

// HeaderSize is the encoded size of a PayloadHeader in bytes.
const HeaderSize = headerSize

// EncodePayload assembles header + layout table + blob. The content hash is
// computed over the blob bytes here, after signature matching has already
// happened.
func EncodePayload(policy PackingPolicy, flags uint8, layouts []SubresourceLayout, blob []byte) ([]byte, error) {
	if len(layouts) > 0xFFFF {
		return nil, fmt.Errorf("cas: %d subresources exceed the layout table limit", len(layouts))
	}
	layoutsOffset := uint32(headerSize)
	dataOffset := layoutsOffset + uint32(len(layouts)*layoutTableRow)
	total := uint64(dataOffset) + uint64(len(blob))

	header := PayloadHeader{
		Magic:            PayloadMagic,
		PackingPolicy:    policy,
		Flags:            flags,
		SubresourceCount: uint16(len(layouts)),
		TotalPayloadSize: total,
		LayoutsOffset:    layoutsOffset,
		DataOffset:       dataOffset,
		ContentHash:      HashPayload(blob),
	}

	out := make([]byte, 0, total)
	out = appendHeader(out, header)
	for _, layout := range layouts {
		out = binary.LittleEndian.AppendUint32(out, layout.OffsetBytes)
		out = binary.LittleEndian.AppendUint32(out, layout.RowPitchBytes)
		out = binary.LittleEndian.AppendUint32(out, layout.SizeBytes)
	}
	out = append(out, blob...)
	return out, nil
}

// DecodePayload splits an encoded payload back into its parts and verifies
// the magic and size fields.
func DecodePayload(data []byte) (PayloadHeader, []SubresourceLayout, []byte, error) {
	var header PayloadHeader
	if len(data) < headerSize {
		return header, nil, nil, fmt.Errorf("cas: payload truncated at %d bytes", len(data))
	}
	header.Magic = binary.LittleEndian.Uint32(data[0:4])
	if header.Magic != PayloadMagic {
		return header, nil, nil, fmt.Errorf("cas: bad payload magic %#x", header.Magic)
	}
	header.PackingPolicy = PackingPolicy(data[4])
	header.Flags = data[5]
	header.SubresourceCount = binary.LittleEndian.Uint16(data[6:8])
	header.TotalPayloadSize = binary.LittleEndian.Uint64(data[8:16])
	header.LayoutsOffset = binary.LittleEndian.Uint32(data[16:20])
	header.DataOffset = binary.LittleEndian.Uint32(data[20:24])
	copy(header.ContentHash[:], data[24:56])

	if header.TotalPayloadSize != uint64(len(data)) {
		return header, nil, nil, fmt.Errorf("cas: payload size field %d does not match %d actual bytes", header.TotalPayloadSize, len(data))
	}
	wantData := uint64(header.LayoutsOffset) + uint64(header.SubresourceCount)*layoutTableRow
	if uint64(header.DataOffset) != wantData || header.DataOffset > uint32(len(data)) {
		return header, nil, nil, fmt.Errorf("cas: inconsistent payload offsets")
	}

	layouts := make([]SubresourceLayout, header.SubresourceCount)
	cursor := header.LayoutsOffset
	for i := range layouts {
		layouts[i] = SubresourceLayout{
			OffsetBytes:   binary.LittleEndian.Uint32(data[cursor : cursor+4]),
			RowPitchBytes: binary.LittleEndian.Uint32(data[cursor+4 : cursor+8]),
			SizeBytes:     binary.LittleEndian.Uint32(data[cursor+8 : cursor+12]),
		}
		cursor += layoutTableRow
	}
	return header, layouts, data[header.DataOffset:], nil
}

// AlignRowPitch applies the policy's row pitch rule to a tightly packed
// row size.
func AlignRowPitch(policy PackingPolicy, tightPitch int) int {
	if policy == PackingAligned {
		return int(alignUp(int64(tightPitch), RowPitchAlignment))
	}
	return tightPitch
}

func appendHeader(out []byte, header PayloadHeader) []byte {
	out = binary.LittleEndian.AppendUint32(out, header.Magic)
	out = append(out, byte(header.PackingPolicy), header.Flags)
	out = binary.LittleEndian.AppendUint16(out, header.SubresourceCount)
	out = binary.LittleEndian.AppendUint64(out, header.TotalPayloadSize)
	out = binary.LittleEndian.AppendUint32(out, header.LayoutsOffset)
	out = binary.LittleEndian.AppendUint32(out, header.DataOffset)
	out = append(out, header.ContentHash[:]...)
	return out
}
