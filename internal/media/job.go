// Package media runs stabilization jobs: download the source video,
// stabilize it and upload the result to public storage.
package media

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Failure stages of a job.
const (
	StageDownload  = "download"
	StageTransform = "transform"
	StageUpload    = "upload"
)

// OutputExt is the extension of every produced artifact.
const OutputExt = ".mp4"

// Job is one stabilization request.
type Job struct {
	SourceURL string
	OutputKey string
}

// NewJob creates a job for sourceURL with a fresh, unique output key.
func NewJob(sourceURL string) Job {
	return Job{
		SourceURL: sourceURL,
		OutputKey: uuid.NewString() + OutputExt,
	}
}

// Artifact is a stabilized video in public storage.
type Artifact struct {
	Key string
	URL string
}

// StageError reports which stage of a job failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Transformer turns the video at src into a stabilized video at dst.
type Transformer interface {
	Transform(ctx context.Context, src, dst string) error
}

// Uploader stores a local file under key and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, key, path string) (string, error)
}
