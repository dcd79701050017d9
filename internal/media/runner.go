package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/vidstab-bot/messenger-webhook-go/internal/observability"
	"github.com/vidstab-bot/messenger-webhook-go/pkg/logger"
)

// HTTPClient defines the interface for making HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Timeout bounds download, transform and upload together; zero means no
	// deadline beyond the caller's context.
	Timeout time.Duration
	// TempDir is the parent of each job's scratch directory; empty uses os.TempDir.
	TempDir string
}

// Runner executes stabilization jobs.
type Runner struct {
	http        HTTPClient
	transformer Transformer
	uploader    Uploader
	cfg         RunnerConfig
}

// NewRunner creates a Runner. A nil httpClient uses http.DefaultClient; the
// job deadline applies through the request context.
func NewRunner(cfg RunnerConfig, httpClient HTTPClient, transformer Transformer, uploader Uploader) *Runner {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Runner{
		http:        httpClient,
		transformer: transformer,
		uploader:    uploader,
		cfg:         cfg,
	}
}

// Run downloads job.SourceURL, stabilizes it and uploads it under
// job.OutputKey. Failures are returned as *StageError. The job's scratch
// directory is removed before Run returns.
func (r *Runner) Run(ctx context.Context, job Job) (Artifact, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		observability.JobDuration.Observe(time.Since(start).Seconds())
	}()

	dir, err := os.MkdirTemp(r.cfg.TempDir, "vidstab-")
	if err != nil {
		return Artifact{}, &StageError{Stage: StageDownload, Err: fmt.Errorf("create temp dir: %w", err)}
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Log.Warn("Failed to remove job temp dir", zap.String("dir", dir), zap.Error(err))
		}
	}()

	src := filepath.Join(dir, "source"+OutputExt)
	dst := filepath.Join(dir, job.OutputKey)

	if err := r.download(ctx, job.SourceURL, src); err != nil {
		return Artifact{}, &StageError{Stage: StageDownload, Err: err}
	}

	if err := r.transformer.Transform(ctx, src, dst); err != nil {
		return Artifact{}, &StageError{Stage: StageTransform, Err: err}
	}

	url, err := r.uploader.Upload(ctx, job.OutputKey, dst)
	if err != nil {
		return Artifact{}, &StageError{Stage: StageUpload, Err: err}
	}

	logger.Log.Info("Stabilization job completed",
		zap.String("outputKey", job.OutputKey),
		zap.Duration("duration", time.Since(start)),
	)

	return Artifact{Key: job.OutputKey, URL: url}, nil
}

func (r *Runner) download(ctx context.Context, sourceURL, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch source: unexpected status %d", resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create source file: %w", err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("write source file: %w", err)
	}
	return f.Close()
}
