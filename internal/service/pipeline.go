// Package service contains the webhook pipeline and its outbound event publisher.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vidstab-bot/messenger-webhook-go/internal/dedup"
	"github.com/vidstab-bot/messenger-webhook-go/internal/media"
	"github.com/vidstab-bot/messenger-webhook-go/internal/messenger"
	"github.com/vidstab-bot/messenger-webhook-go/internal/models"
	"github.com/vidstab-bot/messenger-webhook-go/internal/nested"
	"github.com/vidstab-bot/messenger-webhook-go/internal/observability"
	"github.com/vidstab-bot/messenger-webhook-go/pkg/logger"
)

// DefaultReplyText is sent whenever a message carries no video or its video
// could not be stabilized.
const DefaultReplyText = "Send me a video and I'll do my best to stabilize it & send it back to you!"

// StageDedup labels failures of the dedup store.
const StageDedup = "dedup"

// Sender delivers replies to a Messenger user.
type Sender interface {
	SendText(ctx context.Context, recipientID, text string) error
	SendMedia(ctx context.Context, recipientID, mediaURL string) error
}

// Guard decides whether a dedup key may start a job.
type Guard interface {
	ShouldProcess(ctx context.Context, key string) (bool, error)
}

// JobRunner produces a stabilized artifact for a job.
type JobRunner interface {
	Run(ctx context.Context, job media.Job) (media.Artifact, error)
}

// ArtifactDeleter removes a delivered artifact from public storage.
type ArtifactDeleter interface {
	Delete(ctx context.Context, key string) error
}

// EventPublisher publishes outcome events.
type EventPublisher interface {
	PublishOutcome(ctx context.Context, event *models.OutcomeEvent) error
}

// Result is the terminal state of one Handle call.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Result struct {
	Outcome     models.Outcome
	Challenge   int64
	DedupKey    string
	SenderID    string
	Stage       string
	ArtifactKey string
	Err         error
}

// Pipeline turns one raw webhook payload into at most one reply.
type Pipeline struct {
	verifyToken string
	sender      Sender
	guard       Guard
	runner      JobRunner
	artifacts   ArtifactDeleter
	publisher   EventPublisher
	newJob      func(sourceURL string) media.Job
}

// NewPipeline creates a Pipeline. publisher may be nil.
func NewPipeline(
	verifyToken string,
	sender Sender,
	guard Guard,
	runner JobRunner,
	artifacts ArtifactDeleter,
	publisher EventPublisher,
) *Pipeline {
	return &Pipeline{
		verifyToken: verifyToken,
		sender:      sender,
		guard:       guard,
		runner:      runner,
		artifacts:   artifacts,
		publisher:   publisher,
		newJob:      media.NewJob,
	}
}

// Handle runs the pipeline for raw. It never panics on malformed input and
// always returns a terminal Result; send and cleanup failures are logged and
// do not change the outcome.
func (p *Pipeline) Handle(ctx context.Context, raw nested.Mapping) Result {
	kind := messenger.Classify(raw)
	observability.WebhookRequests.WithLabelValues(kind.String()).Inc()

	var res Result
	switch kind {
	case messenger.KindChallenge:
		res = p.handleChallenge(raw)
	case messenger.KindUserMessage:
		res = p.handleMessage(ctx, raw)
		p.publish(ctx, res)
	default:
		res = Result{Outcome: models.OutcomeIgnored}
		logger.Log.Debug("Ignoring payload of unknown shape")
	}

	observability.Outcomes.WithLabelValues(string(res.Outcome)).Inc()
	return res
}

func (p *Pipeline) handleChallenge(raw nested.Mapping) Result {
	challenge, ok := messenger.VerifyChallenge(raw, p.verifyToken)
	if !ok {
		logger.Log.Warn("Webhook verification failed")
		return Result{Outcome: models.OutcomeChallengeRejected}
	}

	logger.Log.Info("Webhook verified", zap.Int64("challenge", challenge))
	return Result{Outcome: models.OutcomeChallenge, Challenge: challenge}
}

func (p *Pipeline) handleMessage(ctx context.Context, raw nested.Mapping) Result {
	event, ok := messenger.Extract(raw)
	if !ok {
		logger.Log.Warn("Unexpected messaging event")
		return Result{Outcome: models.OutcomeUnexpectedEvent}
	}

	res := Result{SenderID: event.SenderID}

	mediaURL, ok := event.MediaURL()
	if !ok {
		p.sendDefault(ctx, event.SenderID)
		res.Outcome = models.OutcomeDefaultReply
		return res
	}

	res.DedupKey = dedup.Key(event.Timestamp, event.SenderID)
	log := logger.Log.With(
		zap.String("dedupKey", res.DedupKey),
		zap.String("senderId", event.SenderID),
	)

	proceed, err := p.guard.ShouldProcess(ctx, res.DedupKey)
	if err != nil {
		log.Error("Dedup check failed", zap.Error(err))
		return p.mediaFailed(ctx, res, StageDedup, err)
	}
	if !proceed {
		log.Info("Killed retry")
		res.Outcome = models.OutcomeDuplicate
		return res
	}

	job := p.newJob(mediaURL)
	log.Info("Starting stabilization job", zap.String("outputKey", job.OutputKey))

	artifact, err := p.runner.Run(ctx, job)
	if err != nil {
		stage := media.StageTransform
		var stageErr *media.StageError
		if errors.As(err, &stageErr) {
			stage = stageErr.Stage
		}
		log.Error("Stabilization job failed", zap.String("stage", stage), zap.Error(err))
		return p.mediaFailed(ctx, res, stage, err)
	}

	if err := p.sender.SendMedia(ctx, event.SenderID, artifact.URL); err != nil {
		log.Warn("Stabilized video not delivered", zap.Error(err))
	}

	if err := p.artifacts.Delete(ctx, artifact.Key); err != nil {
		log.Error("Failed to delete artifact", zap.String("artifactKey", artifact.Key), zap.Error(err))
	}

	res.Outcome = models.OutcomeDelivered
	res.ArtifactKey = artifact.Key
	return res
}

func (p *Pipeline) mediaFailed(ctx context.Context, res Result, stage string, err error) Result {
	observability.MediaFailures.WithLabelValues(stage).Inc()
	p.sendDefault(ctx, res.SenderID)

	res.Outcome = models.OutcomeMediaFailed
	res.Stage = stage
	res.Err = err
	return res
}

// sendDefault ignores the send error; the client has already logged it.
func (p *Pipeline) sendDefault(ctx context.Context, recipientID string) {
	_ = p.sender.SendText(ctx, recipientID, DefaultReplyText)
}

func (p *Pipeline) publish(ctx context.Context, res Result) {
	if p.publisher == nil {
		return
	}

	event := &models.OutcomeEvent{
		ID:          uuid.New(),
		DedupKey:    res.DedupKey,
		SenderID:    res.SenderID,
		Outcome:     res.Outcome,
		Stage:       res.Stage,
		ArtifactKey: res.ArtifactKey,
		OccurredAt:  time.Now().UTC(),
	}
	if res.Err != nil {
		event.Error = res.Err.Error()
	}

	if err := p.publisher.PublishOutcome(ctx, event); err != nil {
		logger.Log.Warn("Failed to publish outcome event",
			zap.String("eventId", event.ID.String()),
			zap.Error(err),
		)
	}
}
