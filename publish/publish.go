// Package publish uploads the shard files of a finished run to a blob store,
// together with a manifest that records sizes, record counts and content
// digests.
//
// Blobs are laid out as
//
//	<prefix>/<run-id>/shard_<id>.csv[.zst|.lz4]
//	<prefix>/<run-id>/manifest.json
//
// The manifest is written last, so its presence marks a complete upload.
package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hupe1980/knnshard"
	"github.com/hupe1980/knnshard/blobstore"
	"github.com/hupe1980/knnshard/resource"
	"github.com/hupe1980/knnshard/shardfile"
	"golang.org/x/sync/errgroup"
)

// ErrDigestMismatch is returned by Verify when a shard does not match its
// manifest entry.
var ErrDigestMismatch = errors.New("publish: shard digest mismatch")

// DefaultConcurrency is the number of shards uploaded at once.
const DefaultConcurrency = 4

// Options configures a Publisher.
type Options struct {
	// Prefix is prepended to every blob name.
	Prefix string

	// Codec compresses shard blobs. The manifest is never compressed.
	Codec Codec

	// Concurrency bounds parallel shard uploads.
	Concurrency int

	// Resource throttles upload bandwidth. Nil means unlimited.
	Resource *resource.Controller

	// Logger receives per-shard upload events. Nil disables logging.
	Logger *slog.Logger
}

// Publisher uploads run output to a blob store.
type Publisher struct {
	store blobstore.Store
	opts  Options
}

// New creates a Publisher writing to store.
func New(store blobstore.Store, optFns ...func(o *Options)) *Publisher {
	opts := Options{
		Concurrency: DefaultConcurrency,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Publisher{store: store, opts: opts}
}

// RunDir returns the blob directory of a run.
func (p *Publisher) RunDir(runID string) string {
	return path.Join(p.opts.Prefix, runID)
}

// Publish uploads every shard file listed in report and then the manifest.
// If any upload fails, no manifest is written.
func (p *Publisher) Publish(ctx context.Context, report *knnshard.Report) (*Manifest, error) {
	if report == nil {
		return nil, errors.New("publish: nil report")
	}
	dir := p.RunDir(report.RunID)

	entries := make([]ShardEntry, len(report.Files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, info := range report.Files {
		g.Go(func() error {
			start := time.Now()
			e, err := p.uploadShard(gctx, dir, report.OutputDir, info)
			if err != nil {
				return fmt.Errorf("publish: shard %d (%s): %w", info.ID, info.Path, err)
			}
			entries[i] = e
			if p.opts.Logger != nil {
				p.opts.Logger.DebugContext(gctx, "shard uploaded",
					"name", e.Name,
					"raw_size", e.RawSize,
					"uploaded_size", e.UploadedSize,
					"duration", time.Since(start),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	m := &Manifest{
		Version:    CurrentVersion,
		RunID:      report.RunID,
		CreatedAt:  time.Now().UTC(),
		Mode:       report.Kind.String(),
		K:          report.K,
		NumShards:  report.Shards,
		StartIndex: report.StartIndex,
		EndIndex:   report.EndIndex,
		Codec:      p.opts.Codec,
		Shards:     entries,
	}
	if report.Failed != nil {
		m.FailedWords = report.Failed.ToArray()
	}

	data, err := m.encode()
	if err != nil {
		return nil, err
	}
	if err := p.store.Put(ctx, path.Join(dir, ManifestName), bytes.NewReader(data), int64(len(data))); err != nil {
		return nil, fmt.Errorf("publish: manifest: %w", err)
	}

	if p.opts.Logger != nil {
		p.opts.Logger.InfoContext(ctx, "run published",
			"run_id", report.RunID,
			"shards", len(entries),
			"raw_size", m.RawSize(),
			"codec", p.opts.Codec.String(),
		)
	}
	return m, nil
}

func (p *Publisher) uploadShard(ctx context.Context, dir, outputDir string, info shardfile.Info) (ShardEntry, error) {
	rel, err := filepath.Rel(outputDir, info.Path)
	if err != nil {
		return ShardEntry{}, err
	}
	name := path.Join(dir, filepath.ToSlash(rel)) + p.opts.Codec.Ext()

	f, err := os.Open(info.Path)
	if err != nil {
		return ShardEntry{}, err
	}
	defer f.Close()

	// Upload the size observed by the run even if the file has grown since.
	digest := xxhash.New()
	var lines lineCounter
	raw := &countingReader{r: io.TeeReader(io.LimitReader(f, info.Size), io.MultiWriter(digest, &lines))}

	body, size, wait, err := p.encode(raw, info.Size)
	if err != nil {
		return ShardEntry{}, err
	}

	uploaded := &countingReader{r: resource.NewRateLimitedReader(ctx, body, p.opts.Resource)}
	putErr := p.store.Put(ctx, name, uploaded, size)
	encErr := wait(putErr)
	if putErr != nil {
		return ShardEntry{}, putErr
	}
	if encErr != nil {
		return ShardEntry{}, encErr
	}
	if raw.n != info.Size {
		return ShardEntry{}, fmt.Errorf("short read: %d of %d bytes", raw.n, info.Size)
	}

	return ShardEntry{
		ID:           info.ID,
		Name:         name,
		RawSize:      raw.n,
		UploadedSize: uploaded.n,
		Records:      lines.n,
		XXHash64:     fmt.Sprintf("%016x", digest.Sum64()),
	}, nil
}

// encode returns the upload body for src. For compressed codecs the body is
// produced by a goroutine; wait stops it and returns its error.
func (p *Publisher) encode(src io.Reader, rawSize int64) (body io.Reader, size int64, wait func(error) error, err error) {
	if p.opts.Codec == CodecNone {
		return src, rawSize, func(error) error { return nil }, nil
	}

	pr, pw := io.Pipe()
	enc, err := p.opts.Codec.newWriter(pw)
	if err != nil {
		return nil, 0, nil, err
	}

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(enc, src)
		if cerr := enc.Close(); err == nil {
			err = cerr
		}
		_ = pw.CloseWithError(err)
		done <- err
	}()

	wait = func(putErr error) error {
		if putErr != nil {
			_ = pr.CloseWithError(putErr)
		}
		return <-done
	}
	return pr, -1, wait, nil
}

// Verify downloads the manifest of runID and checks every shard against it.
func Verify(ctx context.Context, store blobstore.Store, prefix, runID string) (*Manifest, error) {
	rc, err := store.Open(ctx, path.Join(prefix, runID, ManifestName))
	if err != nil {
		return nil, err
	}
	m, err := DecodeManifest(rc)
	_ = rc.Close()
	if err != nil {
		return nil, err
	}

	for _, s := range m.Shards {
		if err := verifyShard(ctx, store, m.Codec, s); err != nil {
			return m, fmt.Errorf("publish: verify %s: %w", s.Name, err)
		}
	}
	return m, nil
}

func verifyShard(ctx context.Context, store blobstore.Store, codec Codec, s ShardEntry) error {
	rc, err := store.Open(ctx, s.Name)
	if err != nil {
		return err
	}
	defer rc.Close()

	dec, err := codec.newReader(rc)
	if err != nil {
		return err
	}
	defer dec.Close()

	digest := xxhash.New()
	n, err := io.Copy(digest, dec)
	if err != nil {
		return err
	}
	if n != s.RawSize {
		return fmt.Errorf("%w: size %d, want %d", ErrDigestMismatch, n, s.RawSize)
	}
	if got := fmt.Sprintf("%016x", digest.Sum64()); got != s.XXHash64 {
		return fmt.Errorf("%w: xxhash64 %s, want %s", ErrDigestMismatch, got, s.XXHash64)
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

type lineCounter struct {
	n int64
}

func (l *lineCounter) Write(p []byte) (int, error) {
	l.n += int64(bytes.Count(p, []byte{'\n'}))
	return len(p), nil
}
