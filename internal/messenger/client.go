package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vidstab-bot/messenger-webhook-go/internal/observability"
	"github.com/vidstab-bot/messenger-webhook-go/pkg/logger"
)

const (
	DefaultGraphURL   = "https://graph.facebook.com"
	DefaultAPIVersion = "v2.6"

	maxErrorBody = 4 << 10
)

// ErrCircuitOpen is returned when recent sends failed often enough that the
// client stopped calling the Send API for a while.
var ErrCircuitOpen = errors.New("messenger: send api circuit open")

// HTTPClient defines the interface for making HTTP requests.
// This allows for easy mocking in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// SendError is returned when the Send API answers with a non-2xx status.
type SendError struct {
	StatusCode int
	Body       string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send api returned status %d: %s", e.StatusCode, e.Body)
}

// ClientConfig configures a Send API client.
type ClientConfig struct {
	GraphURL    string
	APIVersion  string
	AccessToken string
	Timeout     time.Duration

	// RateLimit is the sustained number of requests per second; zero disables limiting.
	RateLimit float64
	Burst     int
}

// Client sends text and video replies through the Messenger Send API.
// Send failures are logged and returned; they are never retried.
type Client struct {
	http     HTTPClient
	endpoint string
	token    string
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
}

// NewClient creates a Send API client. A nil httpClient gets a default
// client using cfg.Timeout.
func NewClient(cfg ClientConfig, httpClient HTTPClient) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	graphURL := strings.TrimRight(cfg.GraphURL, "/")
	if graphURL == "" {
		graphURL = DefaultGraphURL
	}
	version := cfg.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "messenger-send",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Log.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		http:     httpClient,
		endpoint: graphURL + "/" + version + "/me/messages",
		token:    cfg.AccessToken,
		limiter:  limiter,
		breaker:  breaker,
	}
}

// SendText sends a plain text message to recipientID.
func (c *Client) SendText(ctx context.Context, recipientID, text string) error {
	msg := &OutboundMessage{
		Recipient: Recipient{ID: recipientID},
		Message:   MessageBody{Text: text},
	}
	return c.send(ctx, "text", msg)
}

// SendMedia sends a reusable video attachment located at mediaURL to recipientID.
func (c *Client) SendMedia(ctx context.Context, recipientID, mediaURL string) error {
	msg := &OutboundMessage{
		Recipient: Recipient{ID: recipientID},
		Message: MessageBody{
			Attachment: &Attachment{
				Type: AttachmentTypeVideo,
				Payload: AttachmentPayload{
					URL:        mediaURL,
					IsReusable: true,
				},
			},
		},
	}
	return c.send(ctx, "media", msg)
}

func (c *Client) send(ctx context.Context, kind string, msg *OutboundMessage) error {
	start := time.Now()
	err := c.doSend(ctx, msg)
	observability.SendLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	if err != nil {
		observability.Sends.WithLabelValues(kind, "error").Inc()
		logger.Log.Error("Failed to send message",
			zap.Error(err),
			zap.String("kind", kind),
			zap.String("recipientId", msg.Recipient.ID),
		)
		return err
	}

	observability.Sends.WithLabelValues(kind, "ok").Inc()
	logger.Log.Debug("Message sent",
		zap.String("kind", kind),
		zap.String("recipientId", msg.Recipient.ID),
	)
	return nil
}

func (c *Client) doSend(ctx context.Context, msg *OutboundMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait for rate limiter: %w", err)
		}
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.post(ctx, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}

func (c *Client) post(ctx context.Context, body []byte) error {
	q := url.Values{}
	q.Set("access_token", c.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &SendError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
