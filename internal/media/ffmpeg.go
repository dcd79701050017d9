package media

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/vidstab-bot/messenger-webhook-go/pkg/logger"
)

const maxCommandOutput = 2 << 10

// CommandRunner runs an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// FFmpegStabilizer stabilizes videos with ffmpeg's vidstab filters in two
// passes: vidstabdetect writes a transforms file next to the output, then
// vidstabtransform applies it.
type FFmpegStabilizer struct {
	path      string
	shakiness int
	smoothing int
	run       CommandRunner
}

// NewFFmpegStabilizer creates a stabilizer. A nil run executes the real
// ffmpeg binary at path.
func NewFFmpegStabilizer(path string, shakiness, smoothing int, run CommandRunner) *FFmpegStabilizer {
	if path == "" {
		path = "ffmpeg"
	}
	if run == nil {
		run = execRunner
	}
	return &FFmpegStabilizer{
		path:      path,
		shakiness: shakiness,
		smoothing: smoothing,
		run:       run,
	}
}

func (s *FFmpegStabilizer) Transform(ctx context.Context, src, dst string) error {
	transforms := filepath.Join(filepath.Dir(dst), "transforms.trf")

	detect := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", src,
		"-vf", fmt.Sprintf("vidstabdetect=shakiness=%d:accuracy=15:result=%s", s.shakiness, transforms),
		"-f", "null", "-",
	}
	if err := s.exec(ctx, "vidstabdetect", detect); err != nil {
		return err
	}

	transform := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", src,
		"-vf", fmt.Sprintf("vidstabtransform=smoothing=%d:input=%s:zoom=0:optzoom=1,unsharp=5:5:0.8:3:3:0.4", s.smoothing, transforms),
		"-c:v", "libx264", "-preset", "fast",
		"-c:a", "copy",
		"-movflags", "+faststart",
		dst,
	}
	return s.exec(ctx, "vidstabtransform", transform)
}

func (s *FFmpegStabilizer) exec(ctx context.Context, pass string, args []string) error {
	logger.Log.Debug("Running ffmpeg", zap.String("pass", pass), zap.Strings("args", args))

	out, err := s.run(ctx, s.path, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg %s: %w", pass, ctxErr)
		}
		return fmt.Errorf("ffmpeg %s: %w: %s", pass, err, truncate(strings.TrimSpace(string(out)), maxCommandOutput))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
