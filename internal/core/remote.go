package core

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// RemoteEncoder talks to a self-hosted sentence-transformers service that
// exposes POST /encode. The service pins the model version, so every worker
// encodes into the same space as the snapshot.
type RemoteEncoder struct {
	client *resty.Client
}

var _ Encoder = (*RemoteEncoder)(nil)

type encodeRequest struct {
	Text string `json:"text"`
}

type encodeResponse struct {
	Vector []float32 `json:"vector"`
}

func NewRemoteEncoder(baseURL string) *RemoteEncoder {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second)

	return &RemoteEncoder{client: client}
}

func (e *RemoteEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	var result encodeResponse

	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(encodeRequest{Text: text}).
		SetResult(&result).
		Post("/encode")
	if err != nil {
		return nil, fmt.Errorf("encoder request failed: %w", err)
	}

	if resp.IsError() {
		return nil, fmt.Errorf("encoder returned status %d: %s", resp.StatusCode(), resp.String())
	}

	if len(result.Vector) == 0 {
		return nil, fmt.Errorf("encoder returned an empty vector")
	}

	return result.Vector, nil
}
