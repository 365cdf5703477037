package ingest

import (
	"context"
	"fmt"

	"github.com/plexbridge/plexbridge/internal/httpclient"
)

// Estimation heuristics. Roughly 200 bytes per playlist record; anything over
// a megabyte or a thousand channels is better served by the streaming
// endpoint.
const (
	bytesPerChannelEstimate   = 200
	streamingByteThreshold    = 1 << 20
	streamingChannelThreshold = 1000
)

// Estimate is the result of a HEAD probe against a playlist URL.
type Estimate struct {
	ContentLength      int64 `json:"contentLength"`
	EstimatedChannels  int   `json:"estimatedChannels"`
	RecommendStreaming bool  `json:"recommendStreaming"`
}

// Estimator sizes a playlist before committing to a full fetch.
type Estimator struct {
	client *httpclient.Client
}

// NewEstimator creates an Estimator using the given upstream client.
func NewEstimator(client *httpclient.Client) *Estimator {
	return &Estimator{client: client}
}

// Estimate issues a HEAD request and derives channel count and transport
// advice from Content-Length. A missing or unusable length yields a zero
// estimate with streaming recommended, the safe default.
func (e *Estimator) Estimate(ctx context.Context, url string) (*Estimate, error) {
	resp, err := e.client.Head(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("probing playlist: %w", err)
	}
	defer resp.Body.Close()

	if resp.ContentLength <= 0 {
		return &Estimate{RecommendStreaming: true}, nil
	}

	channels := int(resp.ContentLength / bytesPerChannelEstimate)
	return &Estimate{
		ContentLength:      resp.ContentLength,
		EstimatedChannels:  channels,
		RecommendStreaming: resp.ContentLength > streamingByteThreshold || channels > streamingChannelThreshold,
	}, nil
}
