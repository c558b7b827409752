package core

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"talkrec-backend/internal/storage"
)

// Snapshot object keys. A snapshot is a pair of objects under one prefix:
// talk metadata as JSON lines and the embedding matrix as little-endian
// float32 rows prefixed by a (count, dim) uint32 header.
const (
	SnapshotMetadataKey = "dataset.jsonl"
	SnapshotVectorsKey  = "embeddings.f32"
)

type IndexEntry struct {
	Title    string `json:"title"`
	Speaker  string `json:"speaker"`
	Category string `json:"category"`
	Conf     string `json:"conf"`
}

// EmbeddingText is the text a snapshot build embeds for this entry. Queries
// are matched against vectors of exactly this string, so changing it
// requires rebuilding the snapshot.
func (e IndexEntry) EmbeddingText() string {
	return e.Title + ". " + e.Category
}

// EmbeddingIndex is an immutable snapshot of talk metadata and their
// embedding vectors. It is built once at process start and never mutated, so
// it is safe for concurrent readers without locking.
type EmbeddingIndex struct {
	entries []IndexEntry
	vectors [][]float32
	dim     int
}

func NewEmbeddingIndex(entries []IndexEntry, vectors [][]float32) (*EmbeddingIndex, error) {
	if len(entries) != len(vectors) {
		return nil, fmt.Errorf("index has %d entries but %d vectors", len(entries), len(vectors))
	}

	dim := 0
	for i, vec := range vectors {
		if i == 0 {
			dim = len(vec)
		} else if len(vec) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, expected %d", i, len(vec), dim)
		}
	}

	return &EmbeddingIndex{entries: entries, vectors: vectors, dim: dim}, nil
}

func (idx *EmbeddingIndex) Len() int {
	return len(idx.entries)
}

func (idx *EmbeddingIndex) Dim() int {
	return idx.dim
}

func (idx *EmbeddingIndex) Entry(i int) IndexEntry {
	return idx.entries[i]
}

func (idx *EmbeddingIndex) Vector(i int) []float32 {
	return idx.vectors[i]
}

// LoadEmbeddingIndex pulls a snapshot from the object store and builds the
// index. Called once at worker startup; a broken snapshot fails the process
// rather than producing a silently empty index.
func LoadEmbeddingIndex(ctx context.Context, store storage.ObjectStore, bucket, prefix string) (*EmbeddingIndex, error) {
	metaKey := prefix + SnapshotMetadataKey
	vecKey := prefix + SnapshotVectorsKey

	metaRaw, err := store.GetObject(ctx, bucket, metaKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot metadata %s/%s: %w", bucket, metaKey, err)
	}

	entries, err := DecodeMetadata(metaRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot metadata %s/%s: %w", bucket, metaKey, err)
	}

	vecRaw, err := store.GetObject(ctx, bucket, vecKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot vectors %s/%s: %w", bucket, vecKey, err)
	}

	vectors, err := DecodeVectors(vecRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot vectors %s/%s: %w", bucket, vecKey, err)
	}

	index, err := NewEmbeddingIndex(entries, vectors)
	if err != nil {
		return nil, fmt.Errorf("inconsistent snapshot %s/%s: %w", bucket, prefix, err)
	}

	slog.Info("embedding index loaded", "entries", index.Len(), "dim", index.Dim())
	return index, nil
}

// DecodeMetadata parses the snapshot metadata format: one JSON entry per
// line, blank lines ignored.
func DecodeMetadata(raw []byte) ([]IndexEntry, error) {
	var entries []IndexEntry

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry IndexEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("invalid metadata line %d: %w", len(entries)+1, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

// DecodeVectors parses the embedding matrix format: uint32 count, uint32
// dim, then count*dim little-endian float32 values.
func DecodeVectors(raw []byte) ([][]float32, error) {
	if len(raw) < 8 {
		return nil, fmt.Errorf("vector file too short: %d bytes", len(raw))
	}

	count := binary.LittleEndian.Uint32(raw[0:4])
	dim := binary.LittleEndian.Uint32(raw[4:8])

	// Validate the header against the payload in uint64 so a hostile
	// count*dim cannot overflow into a size that happens to match.
	payload := len(raw) - 8
	if payload%4 != 0 || uint64(count)*uint64(dim) != uint64(payload/4) {
		return nil, fmt.Errorf("vector file has %d bytes, which does not match %d vectors of dim %d", len(raw), count, dim)
	}

	vectors := make([][]float32, count)
	offset := 8
	for i := range vectors {
		vec := make([]float32, dim)
		for j := range vec {
			bits := binary.LittleEndian.Uint32(raw[offset : offset+4])
			vec[j] = math.Float32frombits(bits)
			offset += 4
		}
		vectors[i] = vec
	}

	return vectors, nil
}

// EncodeVectors is the inverse of DecodeVectors, used by snapshot tooling
// and tests.
func EncodeVectors(vectors [][]float32) ([]byte, error) {
	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}

	buf := make([]byte, 8, 8+len(vectors)*dim*4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(vectors)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(dim))

	scratch := make([]byte, 4)
	for i, vec := range vectors {
		if len(vec) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, expected %d", i, len(vec), dim)
		}
		for _, v := range vec {
			binary.LittleEndian.PutUint32(scratch, math.Float32bits(v))
			buf = append(buf, scratch...)
		}
	}

	return buf, nil
}
