package media

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCommand struct {
	name string
	args []string
}

func TestFFmpegStabilizer_TwoPasses(t *testing.T) {
	t.Parallel()

	var calls []recordedCommand
	run := func(_ context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, recordedCommand{name: name, args: args})
		return nil, nil
	}

	s := NewFFmpegStabilizer("/usr/bin/ffmpeg", 7, 12, run)
	require.NoError(t, s.Transform(context.Background(), "/tmp/job/source.mp4", "/tmp/job/out.mp4"))

	require.Len(t, calls, 2)
	for _, c := range calls {
		assert.Equal(t, "/usr/bin/ffmpeg", c.name)
		assert.Contains(t, c.args, "/tmp/job/source.mp4")
	}

	detect := strings.Join(calls[0].args, " ")
	assert.Contains(t, detect, "vidstabdetect=shakiness=7")
	assert.Contains(t, detect, "result=/tmp/job/transforms.trf")

	transform := strings.Join(calls[1].args, " ")
	assert.Contains(t, transform, "vidstabtransform=smoothing=12:input=/tmp/job/transforms.trf")
	assert.Equal(t, "/tmp/job/out.mp4", calls[1].args[len(calls[1].args)-1])
}

func TestFFmpegStabilizer_DefaultPath(t *testing.T) {
	t.Parallel()

	var name string
	s := NewFFmpegStabilizer("", 5, 30, func(_ context.Context, n string, _ ...string) ([]byte, error) {
		name = n
		return nil, nil
	})
	require.NoError(t, s.Transform(context.Background(), "a", "b"))
	assert.Equal(t, "ffmpeg", name)
}

func TestFFmpegStabilizer_DetectFailureStops(t *testing.T) {
	t.Parallel()

	calls := 0
	s := NewFFmpegStabilizer("ffmpeg", 5, 30, func(context.Context, string, ...string) ([]byte, error) {
		calls++
		return []byte("source.mp4: Invalid data found when processing input\n"), errors.New("exit status 1")
	})

	err := s.Transform(context.Background(), "source.mp4", "out.mp4")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "vidstabdetect")
	assert.Contains(t, err.Error(), "Invalid data found")
}

func TestFFmpegStabilizer_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewFFmpegStabilizer("ffmpeg", 5, 30, func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("signal: killed")
	})

	err := s.Transform(ctx, "a", "b")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab...", truncate("abc", 2))
}
