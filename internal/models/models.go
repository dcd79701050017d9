// Package models contains the data models and DTOs for the Messenger webhook service.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is the terminal state of one webhook invocation.
type Outcome string

// Outcome constants define every way an invocation can end.
const (
	OutcomeChallenge         Outcome = "challenge"
	OutcomeChallengeRejected Outcome = "challenge_rejected"
	OutcomeIgnored           Outcome = "ignored"
	OutcomeUnexpectedEvent   Outcome = "unexpected_event"
	OutcomeDefaultReply      Outcome = "default_reply"
	OutcomeDuplicate         Outcome = "duplicate"
	OutcomeDelivered         Outcome = "delivered"
	OutcomeMediaFailed       Outcome = "media_failed"
)

// OutcomeEvent records how a user message was handled. It is published to
// the outcomes exchange.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type OutcomeEvent struct {
	ID          uuid.UUID `json:"id"`
	DedupKey    string    `json:"dedup_key,omitempty"`
	SenderID    string    `json:"sender_id,omitempty"`
	Outcome     Outcome   `json:"outcome"`
	Stage       string    `json:"stage,omitempty"`
	ArtifactKey string    `json:"artifact_key,omitempty"`
	Error       string    `json:"error,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// WebhookResponseDTO represents the webhook response.
type WebhookResponseDTO struct {
	Status Outcome `json:"status"`
}

// ErrorResponse represents an error response.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type ErrorResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Status    int       `json:"status"`
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Path      string    `json:"path"`
}
