package intent

import (
	"context"
	"fmt"

	"github.com/sagebank/orchestrator/internal/httpx"
	"github.com/sagebank/orchestrator/internal/logging"
	"github.com/sagebank/orchestrator/internal/metrics"
)

// DefaultConfidenceFloor is the minimum classifier confidence the pipeline
// acts on without asking the user to rephrase.
const DefaultConfidenceFloor = 0.6

// Classifier calls the external intent classification endpoint.
type Classifier struct {
	client          *httpx.Client
	baseURL         string
	confidenceFloor float64
}

// NewClassifier creates a classifier client. A non-positive floor falls back
// to DefaultConfidenceFloor.
func NewClassifier(client *httpx.Client, baseURL string, confidenceFloor float64) *Classifier {
	if confidenceFloor <= 0 {
		confidenceFloor = DefaultConfidenceFloor
	}
	return &Classifier{
		client:          client,
		baseURL:         baseURL,
		confidenceFloor: confidenceFloor,
	}
}

type classifyRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

// Classify sends the raw query to the classifier and returns the validated
// envelope. Malformed or low-confidence results return ErrUnusable; transport
// failures return the transport error.
func (c *Classifier) Classify(ctx context.Context, query, sessionID string) (*Envelope, error) {
	resp, err := c.client.PostJSON(ctx, c.baseURL+"/classify", classifyRequest{
		Query:     query,
		SessionID: sessionID,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("classifier call: %w", err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("classifier returned %d", resp.StatusCode)
	}

	var env Envelope
	if err := resp.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnusable, err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if env.Confidence < c.confidenceFloor {
		logging.L(ctx).Info("low confidence classification",
			"intent", string(env.Intent),
			"confidence", env.Confidence)
		return nil, fmt.Errorf("%w: confidence %.2f below floor %.2f",
			ErrUnusable, env.Confidence, c.confidenceFloor)
	}

	metrics.IntentsTotal.WithLabelValues(string(env.Intent)).Inc()
	return &env, nil
}
