package publish

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// ManifestName is the blob name of the manifest within a run directory.
const ManifestName = "manifest.json"

// CurrentVersion is the manifest format version written by Publish.
const CurrentVersion = 1

// Manifest describes one published run.
type Manifest struct {
	Version   int       `json:"version"`
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`

	Mode       string `json:"mode"`
	K          int    `json:"k"`
	NumShards  int    `json:"num_shards"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
	Codec      Codec  `json:"codec"`

	Shards      []ShardEntry `json:"shards"`
	FailedWords []uint32     `json:"failed_words,omitempty"`
}

// ShardEntry describes one uploaded shard file.
type ShardEntry struct {
	ID           int    `json:"id"`
	Name         string `json:"name"` // Blob name, relative to the store root
	RawSize      int64  `json:"raw_size"`
	UploadedSize int64  `json:"uploaded_size"`
	Records      int64  `json:"records"`
	XXHash64     string `json:"xxhash64"` // Of the raw content, hex
}

// RawSize sums the uncompressed sizes of all shards.
func (m *Manifest) RawSize() int64 {
	var n int64
	for _, s := range m.Shards {
		n += s.RawSize
	}
	return n
}

// Records sums the record counts of all shards.
func (m *Manifest) Records() int64 {
	var n int64
	for _, s := range m.Shards {
		n += s.Records
	}
	return n
}

func (m *Manifest) encode() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// DecodeManifest reads a manifest written by Publish.
func DecodeManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("publish: decode manifest: %w", err)
	}
	if m.Version != CurrentVersion {
		return nil, fmt.Errorf("publish: unsupported manifest version %d", m.Version)
	}
	return &m, nil
}
