package backup

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysql-oss-backup/internal/compress"
	"mysql-oss-backup/internal/errors"
)

var testNow = time.Date(2025, 8, 25, 12, 0, 0, 0, time.UTC)

type fakeStream struct {
	io.Reader
	closeErr error
}

func (f *fakeStream) Close() error { return f.closeErr }

type fakeSource struct {
	schema   string
	data     []byte
	dumpErr  error
	closeErr error
	dumped   bool
}

func (f *fakeSource) Schema() string { return f.schema }

func (f *fakeSource) Dump(ctx context.Context) (io.ReadCloser, error) {
	f.dumped = true
	if f.dumpErr != nil {
		return nil, f.dumpErr
	}
	return &fakeStream{Reader: bytes.NewReader(f.data), closeErr: f.closeErr}, nil
}

type pingableSource struct {
	fakeSource
	pingErr error
	pinged  bool
}

func (p *pingableSource) Ping(ctx context.Context) error {
	p.pinged = true
	return p.pingErr
}

type fakeStore struct {
	objects    []Object
	putKey     string
	putBody    []byte
	putCalls   int
	putErr     error
	listCalls  int
	listErr    error
	deleted    []string
	deleteErrs map[string]error
}

func (s *fakeStore) Put(ctx context.Context, key string, body io.Reader) error {
	s.putCalls++
	if s.putErr != nil {
		return s.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.putKey = key
	s.putBody = data
	return nil
}

func (s *fakeStore) List(ctx context.Context, prefix string) ([]Object, error) {
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.objects, nil
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	if err := s.deleteErrs[key]; err != nil {
		return err
	}
	s.deleted = append(s.deleted, key)
	return nil
}

type fakeStager struct {
	staged    map[string][]byte
	stageErr  error
	discarded []string
	pruned    []string
	pruneErrs []error
}

func (s *fakeStager) Stage(name string, r io.Reader) (io.ReadCloser, int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	if s.stageErr != nil {
		return nil, 0, s.stageErr
	}
	if s.staged == nil {
		s.staged = make(map[string][]byte)
	}
	s.staged[name] = data
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (s *fakeStager) Discard(name string) error {
	s.discarded = append(s.discarded, name)
	delete(s.staged, name)
	return nil
}

func (s *fakeStager) Prune(now time.Time) ([]string, []error) {
	return s.pruned, s.pruneErrs
}

func testOptions() Options {
	return Options{
		Bucket:   "test-bucket",
		Prefix:   "mysql-backups/",
		KeepDays: 7,
		Now:      func() time.Time { return testNow },
	}
}

func keyForDaysAgo(schema string, daysAgo int) string {
	return "mysql-backups/" + ArtifactName(schema, testNow.AddDate(0, 0, -daysAgo), false)
}

func gunzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()

	gzReader, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer gzReader.Close()

	out, err := io.ReadAll(gzReader)
	require.NoError(t, err)
	return out
}

func TestPipeline_Run_UploadsCompressedDump(t *testing.T) {
	t.Parallel()

	dumpData := []byte("-- MySQL dump\nCREATE TABLE t (id INT);\nINSERT INTO t VALUES (1);\n")
	source := &fakeSource{schema: "appdb", data: dumpData}
	store := &fakeStore{}

	p := NewPipeline(source, compress.NewGzipCompressor(), store, testOptions())
	res, err := p.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "mysql-backups/appdb_20250825.sql.gz", store.putKey)
	assert.Equal(t, store.putKey, res.Key)
	assert.Equal(t, int64(len(dumpData)), res.DumpBytes)
	assert.Equal(t, int64(len(store.putBody)), res.ArtifactBytes)

	// What lands in the store must decompress back to the exact dump.
	assert.Equal(t, dumpData, gunzipBytes(t, store.putBody))
}

func TestPipeline_Run_TimeSuffixKey(t *testing.T) {
	t.Parallel()

	source := &fakeSource{schema: "appdb", data: []byte("dump")}
	store := &fakeStore{}
	opts := testOptions()
	opts.TimeSuffix = true

	p := NewPipeline(source, compress.NewGzipCompressor(), store, opts)
	_, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "mysql-backups/appdb_20250825_120000.sql.gz", store.putKey)
}

func TestPipeline_Run_PingFailureStopsRun(t *testing.T) {
	t.Parallel()

	source := &pingableSource{
		fakeSource: fakeSource{schema: "appdb", data: []byte("dump")},
		pingErr:    errors.NewDumpError("appdb", fmt.Errorf("server unreachable")),
	}
	store := &fakeStore{}

	p := NewPipeline(source, compress.NewGzipCompressor(), store, testOptions())
	res, err := p.Run(context.Background())
	assert.Nil(t, res)
	require.Error(t, err)

	var dumpErr *errors.DumpError
	assert.True(t, stderrors.As(err, &dumpErr))
	assert.True(t, source.pinged)
	assert.False(t, source.dumped, "dump must not start when the server is unreachable")
	assert.Zero(t, store.putCalls)
}

func TestPipeline_Run_DumpStartFailure(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		schema:  "appdb",
		dumpErr: errors.NewDumpError("appdb", fmt.Errorf("failed to start mysqldump")),
	}
	store := &fakeStore{}

	p := NewPipeline(source, compress.NewGzipCompressor(), store, testOptions())
	res, err := p.Run(context.Background())
	assert.Nil(t, res)
	require.Error(t, err)

	var dumpErr *errors.DumpError
	assert.True(t, stderrors.As(err, &dumpErr))
	assert.Zero(t, store.putCalls, "nothing may be uploaded when the dump never started")
	assert.Zero(t, store.listCalls, "no sweep without a successful upload")
}

func TestPipeline_Run_NonZeroExitBlocksUpload(t *testing.T) {
	t.Parallel()

	// The stream delivers bytes but Close reports the exit status, the
	// way a failed mysqldump behaves.
	source := &fakeSource{
		schema:   "appdb",
		data:     []byte("partial dump output"),
		closeErr: errors.NewDumpError("appdb", fmt.Errorf("exit status 2: Access denied")),
	}
	store := &fakeStore{}

	p := NewPipeline(source, compress.NewGzipCompressor(), store, testOptions())
	res, err := p.Run(context.Background())
	assert.Nil(t, res)
	require.Error(t, err)

	var dumpErr *errors.DumpError
	require.True(t, stderrors.As(err, &dumpErr))
	assert.Contains(t, err.Error(), "Access denied")
	assert.Zero(t, store.putCalls, "a failed dump must never be uploaded")
	assert.Zero(t, store.listCalls)
}

func TestPipeline_Run_EmptyDumpBlocksUpload(t *testing.T) {
	t.Parallel()

	source := &fakeSource{schema: "appdb", data: nil}
	store := &fakeStore{}

	p := NewPipeline(source, compress.NewGzipCompressor(), store, testOptions())
	res, err := p.Run(context.Background())
	assert.Nil(t, res)
	require.Error(t, err)

	var dumpErr *errors.DumpError
	require.True(t, stderrors.As(err, &dumpErr))
	assert.Equal(t, "appdb", dumpErr.Schema)
	assert.Contains(t, err.Error(), "no data")
	assert.Zero(t, store.putCalls, "an empty dump must never be uploaded")
}

func TestPipeline_Run_UploadFailureSkipsSweep(t *testing.T) {
	t.Parallel()

	source := &fakeSource{schema: "appdb", data: []byte("dump")}
	store := &fakeStore{
		putErr: fmt.Errorf("503 service unavailable"),
		objects: []Object{
			{Key: keyForDaysAgo("appdb", 30)},
		},
	}

	p := NewPipeline(source, compress.NewGzipCompressor(), store, testOptions())
	res, err := p.Run(context.Background())
	assert.Nil(t, res)
	require.Error(t, err)

	var upErr *errors.UploadError
	require.True(t, stderrors.As(err, &upErr))
	assert.Equal(t, "test-bucket", upErr.Bucket)
	assert.Equal(t, "mysql-backups/appdb_20250825.sql.gz", upErr.Key)

	assert.Zero(t, store.listCalls, "sweep must not run after a failed upload")
	assert.Empty(t, store.deleted, "no object may be deleted after a failed upload")
}

func TestPipeline_Run_SweepDeletesOnlyExpired(t *testing.T) {
	t.Parallel()

	source := &fakeSource{schema: "appdb", data: []byte("dump")}
	store := &fakeStore{
		objects: []Object{
			{Key: keyForDaysAgo("appdb", 1)},
			{Key: keyForDaysAgo("appdb", 8)},
			{Key: keyForDaysAgo("appdb", 10)},
			{Key: "mysql-backups/README.md"},
			{Key: "mysql-backups/other-tool-export.tar"},
		},
	}

	p := NewPipeline(source, compress.NewGzipCompressor(), store, testOptions())
	res, err := p.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.ElementsMatch(t, []string{
		keyForDaysAgo("appdb", 8),
		keyForDaysAgo("appdb", 10),
	}, store.deleted)
	assert.ElementsMatch(t, store.deleted, res.Swept)
}

func TestPipeline_Run_SweepContinuesPastDeleteFailures(t *testing.T) {
	t.Parallel()

	failingKey := keyForDaysAgo("appdb", 9)
	source := &fakeSource{schema: "appdb", data: []byte("dump")}
	store := &fakeStore{
		objects: []Object{
			{Key: keyForDaysAgo("appdb", 8)},
			{Key: failingKey},
			{Key: keyForDaysAgo("appdb", 10)},
		},
		deleteErrs: map[string]error{
			failingKey: fmt.Errorf("access denied"),
		},
	}

	p := NewPipeline(source, compress.NewGzipCompressor(), store, testOptions())
	res, err := p.Run(context.Background())
	require.Error(t, err)

	var sweepErr *errors.SweepError
	require.True(t, stderrors.As(err, &sweepErr))
	assert.Len(t, sweepErr.Errs, 1)
	assert.Contains(t, err.Error(), failingKey)

	// The other expired artifacts were still removed, and the result
	// reports them even though the run failed.
	require.NotNil(t, res)
	assert.ElementsMatch(t, []string{
		keyForDaysAgo("appdb", 8),
		keyForDaysAgo("appdb", 10),
	}, store.deleted)
	assert.ElementsMatch(t, store.deleted, res.Swept)
}

func TestPipeline_Run_SweepListFailure(t *testing.T) {
	t.Parallel()

	source := &fakeSource{schema: "appdb", data: []byte("dump")}
	store := &fakeStore{listErr: fmt.Errorf("timeout")}

	p := NewPipeline(source, compress.NewGzipCompressor(), store, testOptions())
	res, err := p.Run(context.Background())
	require.Error(t, err)

	var sweepErr *errors.SweepError
	require.True(t, stderrors.As(err, &sweepErr))

	// Upload already happened, so the result still reports it.
	require.NotNil(t, res)
	assert.Equal(t, "mysql-backups/appdb_20250825.sql.gz", res.Key)
}

func TestPipeline_Run_StagesArtifactLocally(t *testing.T) {
	t.Parallel()

	dumpData := []byte("-- staged dump\n")
	source := &fakeSource{schema: "appdb", data: dumpData}
	store := &fakeStore{}
	stager := &fakeStager{}
	opts := testOptions()
	opts.Stager = stager

	p := NewPipeline(source, compress.NewGzipCompressor(), store, opts)
	res, err := p.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)

	staged, ok := stager.staged["appdb_20250825.sql.gz"]
	require.True(t, ok, "artifact must be staged under its own name")
	assert.Equal(t, staged, store.putBody, "uploaded bytes must match the staged copy")
	assert.Equal(t, dumpData, gunzipBytes(t, staged))
	assert.Empty(t, stager.discarded)
}

func TestPipeline_Run_DiscardsStagedArtifactOnFailedDump(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		schema:   "appdb",
		data:     []byte("truncated"),
		closeErr: errors.NewDumpError("appdb", fmt.Errorf("exit status 3")),
	}
	store := &fakeStore{}
	stager := &fakeStager{}
	opts := testOptions()
	opts.Stager = stager

	p := NewPipeline(source, compress.NewGzipCompressor(), store, opts)
	_, err := p.Run(context.Background())
	require.Error(t, err)

	assert.Contains(t, stager.discarded, "appdb_20250825.sql.gz")
	assert.Empty(t, stager.staged, "no bad artifact may remain staged")
	assert.Zero(t, store.putCalls)
}

func TestPipeline_Run_KeepsStagedArtifactOnFailedUpload(t *testing.T) {
	t.Parallel()

	source := &fakeSource{schema: "appdb", data: []byte("dump")}
	store := &fakeStore{putErr: fmt.Errorf("network down")}
	stager := &fakeStager{}
	opts := testOptions()
	opts.Stager = stager

	p := NewPipeline(source, compress.NewGzipCompressor(), store, opts)
	_, err := p.Run(context.Background())
	require.Error(t, err)

	// The staged copy is still a valid backup; only the upload failed.
	assert.Empty(t, stager.discarded)
	assert.Contains(t, stager.staged, "appdb_20250825.sql.gz")
}

func TestPipeline_Run_StageFailureIsCompressStage(t *testing.T) {
	t.Parallel()

	source := &fakeSource{schema: "appdb", data: []byte("dump")}
	store := &fakeStore{}
	stager := &fakeStager{stageErr: fmt.Errorf("no space left on device")}
	opts := testOptions()
	opts.Stager = stager

	p := NewPipeline(source, compress.NewGzipCompressor(), store, opts)
	res, err := p.Run(context.Background())
	assert.Nil(t, res)
	require.Error(t, err)

	var compErr *errors.CompressError
	require.True(t, stderrors.As(err, &compErr))
	assert.Equal(t, "appdb_20250825.sql.gz", compErr.Artifact)
	assert.Zero(t, store.putCalls)
}

func TestPipeline_Run_PruneFailuresDoNotFailRun(t *testing.T) {
	t.Parallel()

	source := &fakeSource{schema: "appdb", data: []byte("dump")}
	store := &fakeStore{}
	stager := &fakeStager{
		pruned:    []string{"appdb_20250801.sql.gz"},
		pruneErrs: []error{fmt.Errorf("permission denied")},
	}
	opts := testOptions()
	opts.Stager = stager

	p := NewPipeline(source, compress.NewGzipCompressor(), store, opts)
	res, err := p.Run(context.Background())
	require.NoError(t, err, "local prune problems are logged, not fatal")
	require.NotNil(t, res)
	assert.Equal(t, []string{"appdb_20250801.sql.gz"}, res.Pruned)
}
