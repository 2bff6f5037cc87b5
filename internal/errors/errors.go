package errors

import (
	"fmt"
	"strings"
)

// ConfigError reports a missing or invalid environment value. It is raised
// before any side-effecting step runs.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for '%s': %s", e.Field, e.Message)
}

func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// DumpError wraps any failure of the dump step: binary not found, subprocess
// exit, authentication or lock problems, or an empty dump.
type DumpError struct {
	Schema string
	Err    error
}

func (e *DumpError) Error() string {
	return fmt.Sprintf("dump failed for schema '%s': %v", e.Schema, e.Err)
}

func (e *DumpError) Unwrap() error {
	return e.Err
}

func NewDumpError(schema string, err error) *DumpError {
	return &DumpError{
		Schema: schema,
		Err:    err,
	}
}

// CompressError wraps an I/O failure while producing the compressed artifact.
type CompressError struct {
	Artifact string
	Err      error
}

func (e *CompressError) Error() string {
	return fmt.Sprintf("compression failed for artifact '%s': %v", e.Artifact, e.Err)
}

func (e *CompressError) Unwrap() error {
	return e.Err
}

func NewCompressError(artifact string, err error) *CompressError {
	return &CompressError{
		Artifact: artifact,
		Err:      err,
	}
}

// UploadError wraps a failed put of the artifact. The sweep must not run
// after one of these.
type UploadError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed for bucket '%s', key '%s': %v", e.Bucket, e.Key, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

func NewUploadError(bucket, key string, err error) *UploadError {
	return &UploadError{
		Bucket: bucket,
		Key:    key,
		Err:    err,
	}
}

// SweepError aggregates the failures of a retention sweep. The sweep keeps
// going past individual delete errors, so one of these can carry several
// causes while other objects were still removed.
type SweepError struct {
	Bucket string
	Errs   []error
}

func (e *SweepError) Error() string {
	if len(e.Errs) == 1 {
		return fmt.Sprintf("sweep failed for bucket '%s': %v", e.Bucket, e.Errs[0])
	}
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("sweep failed for bucket '%s': %d errors: %s", e.Bucket, len(e.Errs), strings.Join(msgs, "; "))
}

func (e *SweepError) Unwrap() []error {
	return e.Errs
}

func NewSweepError(bucket string, errs []error) *SweepError {
	return &SweepError{
		Bucket: bucket,
		Errs:   errs,
	}
}

// StorageError is the low-level error returned by the object-store client for
// a single put, list or delete call.
type StorageError struct {
	Operation string
	Bucket    string
	Key       string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed for bucket '%s', key '%s': %v", e.Operation, e.Bucket, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func NewStorageError(op, bucket, key string, err error) *StorageError {
	return &StorageError{
		Operation: op,
		Bucket:    bucket,
		Key:       key,
		Err:       err,
	}
}
