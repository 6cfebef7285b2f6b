package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/index"
)

// ReadFile reads and decodes the snapshot at path.
func ReadFile(path string) (index.State, Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return index.State{}, Header{}, fmt.Errorf("opening snapshot file: %w", err)
	}
	return Decode(data)
}

// Decode verifies and decodes a snapshot produced by Encode.
func Decode(data []byte) (index.State, Header, error) {
	if len(data) < HeaderSize+FooterSize {
		return index.State{}, Header{}, fmt.Errorf("invalid snapshot: %d bytes is too short", len(data))
	}
	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != MagicBytes {
		return index.State{}, Header{}, fmt.Errorf("invalid snapshot: bad magic bytes %x", magic)
	}
	header := Header{
		Magic:      magic,
		Version:    binary.LittleEndian.Uint32(data[4:8]),
		DocCount:   binary.LittleEndian.Uint32(data[8:12]),
		TermCount:  binary.LittleEndian.Uint32(data[12:16]),
		Generation: binary.LittleEndian.Uint64(data[16:24]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(data[24:32])),
		NoiseSize:  int64(binary.LittleEndian.Uint64(data[32:40])),
		DocsSize:   int64(binary.LittleEndian.Uint64(data[40:48])),
		TermsSize:  int64(binary.LittleEndian.Uint64(data[48:56])),
	}
	if header.Version != FormatVersion {
		return index.State{}, header, fmt.Errorf("unsupported snapshot version %d", header.Version)
	}
	bodySize := int64(len(data) - HeaderSize - FooterSize)
	if !sectionsFit(bodySize, header.NoiseSize, header.DocsSize, header.TermsSize) {
		return index.State{}, header, fmt.Errorf("invalid snapshot: section sizes do not match file length")
	}
	body := data[HeaderSize : int64(HeaderSize)+bodySize]
	footer := data[int64(HeaderSize)+bodySize:]
	if got, want := crc32.ChecksumIEEE(body), binary.LittleEndian.Uint32(footer[0:4]); got != want {
		return index.State{}, header, fmt.Errorf("invalid snapshot: checksum %08x, expected %08x", got, want)
	}

	dec := getDecoder()
	defer decoderPool.Put(dec)

	state := index.State{Generation: header.Generation}
	offset := int64(0)
	for _, part := range []struct {
		name   string
		size   int64
		target any
	}{
		{"noise words", header.NoiseSize, &state.NoiseWords},
		{"documents", header.DocsSize, &state.Documents},
		{"terms", header.TermsSize, &state.Terms},
	} {
		raw, err := dec.DecodeAll(body[offset:offset+part.size], nil)
		if err != nil {
			return index.State{}, header, fmt.Errorf("decompressing %s: %w", part.name, err)
		}
		if err := json.Unmarshal(raw, part.target); err != nil {
			return index.State{}, header, fmt.Errorf("parsing %s: %w", part.name, err)
		}
		offset += part.size
	}
	if uint32(len(state.Documents)) != header.DocCount || uint32(len(state.Terms)) != header.TermCount {
		return index.State{}, header, fmt.Errorf("invalid snapshot: header counts do not match contents")
	}
	return state, header, nil
}

// sectionsFit reports whether sizes are non-negative and add up to exactly
// body bytes. Each size is checked against what is left so the sum cannot
// overflow.
func sectionsFit(body int64, sizes ...int64) bool {
	left := body
	for _, size := range sizes {
		if size < 0 || size > left {
			return false
		}
		left -= size
	}
	return left == 0
}
