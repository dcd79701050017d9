package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vidstab-bot/messenger-webhook-go/internal/media"
	"github.com/vidstab-bot/messenger-webhook-go/internal/models"
	"github.com/vidstab-bot/messenger-webhook-go/internal/nested"
)

const (
	testToken  = "s3cret"
	testSender = "1254459154682919"
	testTS     = "1458692752478"
	testKey    = testTS + "_" + testSender
	sourceURL  = "https://cdn.example.com/shaky.mp4"
)

// callLog records the order of calls across mocks.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type mockSender struct {
	mock.Mock
	log *callLog
}

func (m *mockSender) SendText(ctx context.Context, recipientID, text string) error {
	m.log.add("SendText")
	return m.Called(ctx, recipientID, text).Error(0)
}

func (m *mockSender) SendMedia(ctx context.Context, recipientID, mediaURL string) error {
	m.log.add("SendMedia")
	return m.Called(ctx, recipientID, mediaURL).Error(0)
}

type mockGuard struct {
	mock.Mock
	log *callLog
}

func (m *mockGuard) ShouldProcess(ctx context.Context, key string) (bool, error) {
	m.log.add("ShouldProcess")
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

type mockRunner struct {
	mock.Mock
	log *callLog
}

func (m *mockRunner) Run(ctx context.Context, job media.Job) (media.Artifact, error) {
	m.log.add("Run")
	args := m.Called(ctx, job)
	return args.Get(0).(media.Artifact), args.Error(1)
}

type mockDeleter struct {
	mock.Mock
	log *callLog
}

func (m *mockDeleter) Delete(ctx context.Context, key string) error {
	m.log.add("Delete")
	return m.Called(ctx, key).Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishOutcome(ctx context.Context, event *models.OutcomeEvent) error {
	return m.Called(ctx, event).Error(0)
}

type fixture struct {
	log       *callLog
	sender    *mockSender
	guard     *mockGuard
	runner    *mockRunner
	deleter   *mockDeleter
	publisher *mockPublisher
	pipeline  *Pipeline
}

func newFixture(withPublisher bool) *fixture {
	log := &callLog{}
	f := &fixture{
		log:     log,
		sender:  &mockSender{log: log},
		guard:   &mockGuard{log: log},
		runner:  &mockRunner{log: log},
		deleter: &mockDeleter{log: log},
	}

	var publisher EventPublisher
	if withPublisher {
		f.publisher = &mockPublisher{}
		publisher = f.publisher
	}

	f.pipeline = NewPipeline(testToken, f.sender, f.guard, f.runner, f.deleter, publisher)
	f.pipeline.newJob = func(src string) media.Job {
		return media.Job{SourceURL: src, OutputKey: "out.mp4"}
	}
	return f
}

func (f *fixture) assertExpectations(t *testing.T) {
	t.Helper()
	f.sender.AssertExpectations(t)
	f.guard.AssertExpectations(t)
	f.runner.AssertExpectations(t)
	f.deleter.AssertExpectations(t)
	if f.publisher != nil {
		f.publisher.AssertExpectations(t)
	}
}

func decode(t *testing.T, doc string) *nested.Map {
	t.Helper()
	m, err := nested.Decode(strings.NewReader(doc))
	require.NoError(t, err)
	return m
}

func messageDoc(message string) string {
	return `{
		"params": {"querystring": {}},
		"body-json": {"object": "page", "entry": [{"messaging": [{
			"sender": {"id": "` + testSender + `"},
			"recipient": {"id": "PAGE"},
			"timestamp": ` + testTS + `,
			"message": ` + message + `
		}]}]}
	}`
}

var videoDoc = messageDoc(`{"attachments": [{"type": "video", "payload": {"url": "` + sourceURL + `"}}]}`)

func TestPipeline_Challenge(t *testing.T) {
	t.Parallel()

	f := newFixture(true)
	raw := decode(t, `{"params": {"querystring": {
		"hub.mode": "subscribe",
		"hub.verify_token": "s3cret",
		"hub.challenge": "1858252904"
	}}}`)

	res := f.pipeline.Handle(context.Background(), raw)

	assert.Equal(t, models.OutcomeChallenge, res.Outcome)
	assert.Equal(t, int64(1858252904), res.Challenge)
	assert.Empty(t, f.log.get())
	f.assertExpectations(t)
}

func TestPipeline_ChallengeRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(true)
	raw := decode(t, `{"params": {"querystring": {"hub.verify_token": "wrong", "hub.challenge": "1858252904"}}}`)

	res := f.pipeline.Handle(context.Background(), raw)

	assert.Equal(t, models.OutcomeChallengeRejected, res.Outcome)
	assert.Zero(t, res.Challenge)
	assert.Empty(t, f.log.get())
	f.assertExpectations(t)
}

func TestPipeline_ChallengeTakesPriority(t *testing.T) {
	t.Parallel()

	f := newFixture(true)
	raw := decode(t, `{
		"params": {"querystring": {"hub.verify_token": "s3cret", "hub.challenge": "7"}},
		"body-json": {"entry": [{"messaging": [{"sender": {"id": "1"}, "timestamp": 1, "message": {"text": "hi"}}]}]}
	}`)

	res := f.pipeline.Handle(context.Background(), raw)

	assert.Equal(t, models.OutcomeChallenge, res.Outcome)
	assert.Equal(t, int64(7), res.Challenge)
	assert.Empty(t, f.log.get())
	f.assertExpectations(t)
}

func TestPipeline_UnknownShapeMakesNoCalls(t *testing.T) {
	t.Parallel()

	for _, doc := range []string{`{}`, `{"object": "page"}`, `{"params": {"querystring": {"hub.mode": "subscribe"}}}`} {
		f := newFixture(true)

		res := f.pipeline.Handle(context.Background(), decode(t, doc))

		assert.Equal(t, models.OutcomeIgnored, res.Outcome, doc)
		assert.Empty(t, f.log.get(), doc)
		f.publisher.AssertNotCalled(t, "PublishOutcome", mock.Anything, mock.Anything)
	}
}

func TestPipeline_UnexpectedEvent(t *testing.T) {
	t.Parallel()

	f := newFixture(true)
	f.publisher.On("PublishOutcome", mock.Anything, mock.MatchedBy(func(e *models.OutcomeEvent) bool {
		return e.Outcome == models.OutcomeUnexpectedEvent
	})).Return(nil).Once()

	res := f.pipeline.Handle(context.Background(), decode(t, `{"body-json": {"entry": []}}`))

	assert.Equal(t, models.OutcomeUnexpectedEvent, res.Outcome)
	assert.Empty(t, f.log.get())
	f.assertExpectations(t)
}

func TestPipeline_NoMediaSendsDefaultReply(t *testing.T) {
	t.Parallel()

	for _, message := range []string{
		`{"text": "hello"}`,
		`{"attachments": []}`,
		`{"attachments": [{"type": "image", "payload": {"url": "https://cdn.example.com/a.jpg"}}]}`,
	} {
		f := newFixture(false)
		f.sender.On("SendText", mock.Anything, testSender, DefaultReplyText).Return(nil).Once()

		res := f.pipeline.Handle(context.Background(), decode(t, messageDoc(message)))

		assert.Equal(t, models.OutcomeDefaultReply, res.Outcome, message)
		assert.Equal(t, testSender, res.SenderID)
		assert.Empty(t, res.DedupKey)
		assert.Equal(t, []string{"SendText"}, f.log.get(), "guard must not be consulted")
		f.assertExpectations(t)
	}
}

func TestPipeline_Duplicate(t *testing.T) {
	t.Parallel()

	f := newFixture(false)
	f.guard.On("ShouldProcess", mock.Anything, testKey).Return(false, nil).Once()

	res := f.pipeline.Handle(context.Background(), decode(t, videoDoc))

	assert.Equal(t, models.OutcomeDuplicate, res.Outcome)
	assert.Equal(t, testKey, res.DedupKey)
	assert.Equal(t, []string{"ShouldProcess"}, f.log.get())
	f.assertExpectations(t)
}

func TestPipeline_Delivered(t *testing.T) {
	t.Parallel()

	f := newFixture(true)
	artifact := media.Artifact{Key: "out.mp4", URL: "https://s3.amazonaws.com/public/out.mp4"}

	f.guard.On("ShouldProcess", mock.Anything, testKey).Return(true, nil).Once()
	f.runner.On("Run", mock.Anything, media.Job{SourceURL: sourceURL, OutputKey: "out.mp4"}).Return(artifact, nil).Once()
	f.sender.On("SendMedia", mock.Anything, testSender, artifact.URL).Return(nil).Once()
	f.deleter.On("Delete", mock.Anything, "out.mp4").Return(nil).Once()
	f.publisher.On("PublishOutcome", mock.Anything, mock.MatchedBy(func(e *models.OutcomeEvent) bool {
		return e.Outcome == models.OutcomeDelivered &&
			e.DedupKey == testKey &&
			e.SenderID == testSender &&
			e.ArtifactKey == "out.mp4" &&
			e.Error == ""
	})).Return(nil).Once()

	res := f.pipeline.Handle(context.Background(), decode(t, videoDoc))

	assert.Equal(t, models.OutcomeDelivered, res.Outcome)
	assert.Equal(t, "out.mp4", res.ArtifactKey)
	assert.NoError(t, res.Err)
	assert.Equal(t, []string{"ShouldProcess", "Run", "SendMedia", "Delete"}, f.log.get())
	f.assertExpectations(t)
}

func TestPipeline_CleanupRunsWhenSendFails(t *testing.T) {
	t.Parallel()

	f := newFixture(false)
	artifact := media.Artifact{Key: "out.mp4", URL: "https://s3.amazonaws.com/public/out.mp4"}

	f.guard.On("ShouldProcess", mock.Anything, testKey).Return(true, nil).Once()
	f.runner.On("Run", mock.Anything, mock.Anything).Return(artifact, nil).Once()
	f.sender.On("SendMedia", mock.Anything, testSender, artifact.URL).Return(errors.New("status 400")).Once()
	f.deleter.On("Delete", mock.Anything, "out.mp4").Return(nil).Once()

	res := f.pipeline.Handle(context.Background(), decode(t, videoDoc))

	assert.Equal(t, models.OutcomeDelivered, res.Outcome)
	assert.Equal(t, []string{"ShouldProcess", "Run", "SendMedia", "Delete"}, f.log.get())
	f.assertExpectations(t)
}

func TestPipeline_DeleteFailureKeepsOutcome(t *testing.T) {
	t.Parallel()

	f := newFixture(false)
	artifact := media.Artifact{Key: "out.mp4", URL: "https://example.com/out.mp4"}

	f.guard.On("ShouldProcess", mock.Anything, testKey).Return(true, nil).Once()
	f.runner.On("Run", mock.Anything, mock.Anything).Return(artifact, nil).Once()
	f.sender.On("SendMedia", mock.Anything, testSender, artifact.URL).Return(nil).Once()
	f.deleter.On("Delete", mock.Anything, "out.mp4").Return(errors.New("access denied")).Once()

	res := f.pipeline.Handle(context.Background(), decode(t, videoDoc))

	assert.Equal(t, models.OutcomeDelivered, res.Outcome)
	f.assertExpectations(t)
}

func TestPipeline_MediaFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")

	tests := []struct {
		name      string
		runErr    error
		wantStage string
	}{
		{name: "download", runErr: &media.StageError{Stage: media.StageDownload, Err: boom}, wantStage: media.StageDownload},
		{name: "transform", runErr: &media.StageError{Stage: media.StageTransform, Err: boom}, wantStage: media.StageTransform},
		{name: "upload", runErr: &media.StageError{Stage: media.StageUpload, Err: boom}, wantStage: media.StageUpload},
		{name: "unstaged", runErr: boom, wantStage: media.StageTransform},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(true)
			f.guard.On("ShouldProcess", mock.Anything, testKey).Return(true, nil).Once()
			f.runner.On("Run", mock.Anything, mock.Anything).Return(media.Artifact{}, tt.runErr).Once()
			f.sender.On("SendText", mock.Anything, testSender, DefaultReplyText).Return(nil).Once()
			f.publisher.On("PublishOutcome", mock.Anything, mock.MatchedBy(func(e *models.OutcomeEvent) bool {
				return e.Outcome == models.OutcomeMediaFailed && e.Stage == tt.wantStage && e.Error != ""
			})).Return(nil).Once()

			res := f.pipeline.Handle(context.Background(), decode(t, videoDoc))

			assert.Equal(t, models.OutcomeMediaFailed, res.Outcome)
			assert.Equal(t, tt.wantStage, res.Stage)
			assert.ErrorIs(t, res.Err, boom)
			assert.Equal(t, []string{"ShouldProcess", "Run", "SendText"}, f.log.get())
			f.assertExpectations(t)
		})
	}
}

func TestPipeline_DedupStoreError(t *testing.T) {
	t.Parallel()

	f := newFixture(false)
	storeErr := errors.New("connection refused")
	f.guard.On("ShouldProcess", mock.Anything, testKey).Return(false, storeErr).Once()
	f.sender.On("SendText", mock.Anything, testSender, DefaultReplyText).Return(nil).Once()

	res := f.pipeline.Handle(context.Background(), decode(t, videoDoc))

	assert.Equal(t, models.OutcomeMediaFailed, res.Outcome)
	assert.Equal(t, StageDedup, res.Stage)
	assert.ErrorIs(t, res.Err, storeErr)
	assert.Equal(t, []string{"ShouldProcess", "SendText"}, f.log.get(), "no job may start")
	f.assertExpectations(t)
}

func TestPipeline_DefaultReplySendFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	f := newFixture(false)
	f.sender.On("SendText", mock.Anything, testSender, DefaultReplyText).Return(errors.New("status 500")).Once()

	res := f.pipeline.Handle(context.Background(), decode(t, messageDoc(`{"text": "hi"}`)))

	assert.Equal(t, models.OutcomeDefaultReply, res.Outcome)
	f.assertExpectations(t)
}

func TestPipeline_PublishFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	f := newFixture(true)
	f.guard.On("ShouldProcess", mock.Anything, testKey).Return(false, nil).Once()
	f.publisher.On("PublishOutcome", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()

	res := f.pipeline.Handle(context.Background(), decode(t, videoDoc))

	assert.Equal(t, models.OutcomeDuplicate, res.Outcome)
	f.assertExpectations(t)
}

func TestNewPipeline_DefaultJobFactory(t *testing.T) {
	t.Parallel()

	p := NewPipeline(testToken, nil, nil, nil, nil, nil)
	job := p.newJob(sourceURL)

	assert.Equal(t, sourceURL, job.SourceURL)
	assert.True(t, strings.HasSuffix(job.OutputKey, media.OutputExt))
}
