// Package proxy runs FFmpeg sessions that convert upstream streams to
// MPEG-TS over HTTP, under a global concurrency cap.
package proxy

import "github.com/plexbridge/plexbridge/internal/models"

// Pipeline selects how FFmpeg treats the source.
type Pipeline string

const (
	// PipelineRemux copies elementary streams into the MPEG-TS container.
	PipelineRemux Pipeline = "remux"

	// PipelineTranscode re-encodes video and audio. The output container
	// is MPEG-TS either way.
	PipelineTranscode Pipeline = "transcode"
)

// Classify picks the pipeline for a stream. HTTP-family sources remux;
// push/datagram protocols and explicit transcode requests re-encode.
func Classify(protocol models.StreamProtocol, transcode bool) Pipeline {
	if transcode {
		return PipelineTranscode
	}
	switch protocol {
	case models.ProtocolHLS, models.ProtocolDASH, models.ProtocolHTTP:
		return PipelineRemux
	default:
		return PipelineTranscode
	}
}
