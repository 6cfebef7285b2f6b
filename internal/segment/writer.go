// Package segment encodes index snapshots into .dfs files and writes them
// atomically into a data directory.
package segment

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/index"
	"github.com/klauspost/compress/zstd"
)

// MagicBytes identifies a valid .dfs snapshot.
const (
	MagicBytes    uint32 = 0x44465331
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 16
	FileExt              = ".dfs"
)

// Header is the 64-byte header written at the start of every snapshot.
// Three zstd-compressed JSON sections follow it: noise words, documents and
// the term dictionary.
type Header struct {
	Magic      uint32
	Version    uint32
	DocCount   uint32
	TermCount  uint32
	Generation uint64
	CreatedAt  int64
	NoiseSize  int64
	DocsSize   int64
	TermsSize  int64
}

var (
	encoderPool sync.Pool
	decoderPool sync.Pool
)

// maxSectionBytes bounds the decompressed size of one snapshot section.
const maxSectionBytes = 1 << 30

func getEncoder() *zstd.Encoder {
	if v := encoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getDecoder() *zstd.Decoder {
	if v := decoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxSectionBytes))
	return dec
}

// Encode serialises state into the snapshot format.
func Encode(state index.State, createdAt time.Time) ([]byte, error) {
	enc := getEncoder()
	defer encoderPool.Put(enc)

	sections := make([][]byte, 0, 3)
	for _, part := range []struct {
		name  string
		value any
	}{
		{"noise words", state.NoiseWords},
		{"documents", state.Documents},
		{"terms", state.Terms},
	} {
		raw, err := json.Marshal(part.value)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s: %w", part.name, err)
		}
		sections = append(sections, enc.EncodeAll(raw, nil))
	}

	header := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(header[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(state.Documents)))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(state.Terms)))
	binary.LittleEndian.PutUint64(header[16:24], state.Generation)
	binary.LittleEndian.PutUint64(header[24:32], uint64(createdAt.Unix()))
	binary.LittleEndian.PutUint64(header[32:40], uint64(len(sections[0])))
	binary.LittleEndian.PutUint64(header[40:48], uint64(len(sections[1])))
	binary.LittleEndian.PutUint64(header[48:56], uint64(len(sections[2])))

	out := make([]byte, 0, HeaderSize+len(sections[0])+len(sections[1])+len(sections[2])+FooterSize)
	out = append(out, header...)
	checksum := crc32.NewIEEE()
	for _, s := range sections {
		out = append(out, s...)
		checksum.Write(s)
	}
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], checksum.Sum32())
	binary.LittleEndian.PutUint32(footer[4:8], uint32(len(state.NoiseWords)))
	binary.LittleEndian.PutUint32(footer[8:12], MagicBytes)
	out = append(out, footer...)
	return out, nil
}

// Writer saves snapshots into a data directory, keeping the newest few.
type Writer struct {
	dataDir string
	keep    int
	logger  *slog.Logger
}

// NewWriter creates a Writer for dataDir. keep <= 0 retains every snapshot.
func NewWriter(dataDir string, keep int) *Writer {
	return &Writer{
		dataDir: dataDir,
		keep:    keep,
		logger:  slog.Default().With("component", "segment-writer"),
	}
}

// Save atomically creates a new snapshot file for state. It writes to a .tmp
// file first and renames on success.
func (w *Writer) Save(ctx context.Context, state index.State) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := Encode(state, time.Now())
	if err != nil {
		return "", err
	}
	name := FileName(state.Generation, time.Now())
	finalPath := filepath.Join(w.dataDir, name)
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(w.dataDir, 0755); err != nil {
		return "", fmt.Errorf("creating snapshot directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp snapshot file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return "", fmt.Errorf("writing snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing snapshot file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming snapshot file: %w", err)
	}
	w.prune()
	return name, nil
}

// Latest decodes the newest readable snapshot in the directory. It returns
// nil when there is none.
func (w *Writer) Latest(ctx context.Context) (*index.State, error) {
	names, err := w.list()
	if err != nil {
		return nil, err
	}
	for i := len(names) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		state, _, err := ReadFile(filepath.Join(w.dataDir, names[i]))
		if err != nil {
			w.logger.Error("failed to open snapshot, skipping",
				"snapshot", names[i],
				"error", err,
			)
			continue
		}
		w.logger.Info("loaded snapshot",
			"snapshot", names[i],
			"docs", len(state.Documents),
			"terms", len(state.Terms),
		)
		return &state, nil
	}
	return nil, nil
}

// FileName names a snapshot so that lexical order follows generation order.
func FileName(generation uint64, at time.Time) string {
	return fmt.Sprintf("snap_%020d_%d%s", generation, at.UnixNano(), FileExt)
}

func (w *Writer) list() ([]string, error) {
	entries, err := os.ReadDir(w.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snapshot directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), FileExt) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (w *Writer) prune() {
	if w.keep <= 0 {
		return
	}
	names, err := w.list()
	if err != nil {
		w.logger.Error("listing snapshots for pruning", "error", err)
		return
	}
	for len(names) > w.keep {
		if err := os.Remove(filepath.Join(w.dataDir, names[0])); err != nil {
			w.logger.Error("removing old snapshot", "snapshot", names[0], "error", err)
		}
		names = names[1:]
	}
}
