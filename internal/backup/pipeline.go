package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"mysql-oss-backup/internal/dump"
	"mysql-oss-backup/internal/errors"
	"mysql-oss-backup/internal/logger"
)

// Object is one stored artifact in the object store.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStore is the remote side of the pipeline.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader) error
	List(ctx context.Context, prefix string) ([]Object, error)
	Delete(ctx context.Context, key string) error
}

// Stager keeps a local copy of each artifact alongside the remote upload.
type Stager interface {
	// Stage persists the artifact under name as the stream is produced
	// and returns a reader over the stored bytes plus their count. On
	// error no partial file is left behind.
	Stage(name string, r io.Reader) (io.ReadCloser, int64, error)

	// Discard removes a staged artifact that turned out to be bad.
	Discard(name string) error

	// Prune removes staged artifacts older than the local retention
	// window, returning the names it removed.
	Prune(now time.Time) (removed []string, errs []error)
}

// Compressor turns the raw dump stream into the artifact encoding.
type Compressor interface {
	Compress(r io.Reader) io.ReadCloser
}

// Options carry the per-run knobs for a Pipeline.
type Options struct {
	Bucket     string
	Prefix     string
	KeepDays   int
	TimeSuffix bool

	// Stager is optional; without one the artifact is held in memory
	// between dump and upload.
	Stager Stager

	Logger *logger.Logger

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// Pipeline runs one full backup: dump, compress, upload, then sweep
// expired artifacts. It never sweeps unless the upload succeeded.
type Pipeline struct {
	source     dump.Source
	compressor Compressor
	store      ObjectStore
	stager     Stager
	log        *logger.Logger
	bucket     string
	prefix     string
	keepDays   int
	timeSuffix bool
	now        func() time.Time
}

func NewPipeline(source dump.Source, compressor Compressor, store ObjectStore, opts Options) *Pipeline {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		source:     source,
		compressor: compressor,
		store:      store,
		stager:     opts.Stager,
		log:        log,
		bucket:     opts.Bucket,
		prefix:     opts.Prefix,
		keepDays:   opts.KeepDays,
		timeSuffix: opts.TimeSuffix,
		now:        now,
	}
}

// Result reports what a run produced and removed. On a sweep failure the
// result is still returned alongside the error, since the upload itself
// succeeded.
type Result struct {
	Key           string
	DumpBytes     int64
	ArtifactBytes int64
	Swept         []string
	Pruned        []string
}

func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	schema := p.source.Schema()

	if pinger, ok := p.source.(dump.Pinger); ok {
		if err := pinger.Ping(ctx); err != nil {
			return nil, err
		}
		p.log.Debugw("database reachable", "schema", schema)
	}

	name := ArtifactName(schema, p.now(), p.timeSuffix)
	key := p.prefix + name

	p.log.Infow("starting dump", "schema", schema, "artifact", name)

	stream, err := p.source.Dump(ctx)
	if err != nil {
		return nil, err
	}

	counted := &countingReader{r: stream}
	compressed := p.compressor.Compress(counted)

	body, artifactBytes, mErr := p.materialize(name, compressed)

	// Stop the encoder and reap the dump process before judging the
	// outcome; the exit status only exists once the stream has ended.
	compressed.Close()
	closeErr := stream.Close()

	switch {
	case mErr != nil:
		return nil, errors.NewCompressError(name, mErr)
	case closeErr != nil:
		body.Close()
		p.discard(name)
		return nil, closeErr
	case counted.n == 0:
		body.Close()
		p.discard(name)
		return nil, errors.NewDumpError(schema, fmt.Errorf("dump produced no data"))
	}

	p.log.Infow("dump complete", "schema", schema, "bytes", counted.n, "artifact_bytes", artifactBytes)

	err = p.store.Put(ctx, key, body)
	body.Close()
	if err != nil {
		// The staged copy is a valid backup even though the upload
		// failed, so it stays.
		return nil, errors.NewUploadError(p.bucket, key, err)
	}

	p.log.Infow("uploaded backup", "bucket", p.bucket, "key", key, "bytes", artifactBytes)

	res := &Result{
		Key:           key,
		DumpBytes:     counted.n,
		ArtifactBytes: artifactBytes,
	}

	if p.stager != nil {
		removed, errs := p.stager.Prune(p.now())
		res.Pruned = removed
		for _, pruneErr := range errs {
			p.log.Warnw("failed to prune staged backup", "error", pruneErr)
		}
		if len(removed) > 0 {
			p.log.Infow("pruned staged backups", "count", len(removed))
		}
	}

	swept, err := p.sweepRemote(ctx)
	res.Swept = swept
	if err != nil {
		return res, err
	}

	return res, nil
}

// materialize drains the compressed stream into the stager, or into memory
// when no stager is configured, and hands back a reader for the upload.
// err == nil guarantees a non-nil body.
func (p *Pipeline) materialize(name string, src io.Reader) (io.ReadCloser, int64, error) {
	if p.stager != nil {
		return p.stager.Stage(name, src)
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, src)
	if err != nil {
		return nil, 0, err
	}
	return io.NopCloser(&buf), n, nil
}

func (p *Pipeline) discard(name string) {
	if p.stager == nil {
		return
	}
	if err := p.stager.Discard(name); err != nil {
		p.log.Warnw("failed to remove staged artifact", "artifact", name, "error", err)
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	c.n += int64(n)
	return n, err
}
