// Package ingest implements the M3U import pipeline: fetch, parse, batch,
// emit. Each run serves one client request; progress and parsed channels are
// delivered incrementally as server-sent events.
package ingest

// Channel is one parsed playlist record as delivered to clients.
type Channel struct {
	Name       string            `json:"name"`
	Number     string            `json:"number,omitempty"`
	LogoURL    string            `json:"logo_url,omitempty"`
	EpgKey     string            `json:"epg_key,omitempty"`
	GroupTitle string            `json:"group_title,omitempty"`
	URL        string            `json:"url"`
	Protocol   string            `json:"protocol"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ProgressEvent reports pipeline progress. Emitted at most once per second.
type ProgressEvent struct {
	// Stage is one of "fetch", "parse", "cache".
	Stage string `json:"stage"`

	// Progress is a percentage in [0,100]. -1 when the total is unknown.
	Progress float64 `json:"progress"`

	Message string `json:"message,omitempty"`

	// ProcessingRate is channels parsed per second.
	ProcessingRate float64 `json:"processingRate,omitempty"`

	// ETASeconds estimates time to completion. Omitted when unknown.
	ETASeconds float64 `json:"eta,omitempty"`
}

// ChannelsEvent carries one emitted chunk of parsed channels.
type ChannelsEvent struct {
	Channels     []Channel `json:"channels"`
	TotalParsed  int       `json:"totalParsed"`
	IsComplete   bool      `json:"isComplete"`
	ChunkSize    int       `json:"chunkSize"`
	Backpressure bool      `json:"backpressure"`
}

// CompleteEvent terminates a successful session. Exactly one per session.
type CompleteEvent struct {
	TotalChannels      int                `json:"totalChannels"`
	PerformanceMetrics PerformanceMetrics `json:"performanceMetrics"`
}

// ErrorEvent terminates a failed session.
type ErrorEvent struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

// PerformanceMetrics summarises a completed run.
type PerformanceMetrics struct {
	DurationMS    int64   `json:"durationMs"`
	FetchMS       int64   `json:"fetchMs"`
	ChannelsPerS  float64 `json:"channelsPerSecond"`
	BytesFetched  int64   `json:"bytesFetched"`
	IgnoredLines  int     `json:"ignoredLines"`
	ChunksEmitted int     `json:"chunksEmitted"`
	FromCache     bool    `json:"fromCache"`
}

// Emitter delivers pipeline events to the client. The HTTP layer implements
// it over SSE; tests implement it in memory. A blocked Channels call is the
// backpressure signal the batcher reacts to.
type Emitter interface {
	Progress(ev ProgressEvent) error
	Channels(ev ChannelsEvent) error
	Complete(ev CompleteEvent) error
	Error(ev ErrorEvent) error
}
