// Package telemetry provides OpenTelemetry tracing utilities for the pipeline.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the pipeline.
const (
	StreamVideoIDKey = "stream.video_id"
	StreamHouseKey   = "stream.house"
	StreamStageKey   = "stream.stage"

	ChunkIndexKey = "chunk.index"
	ChunkCountKey = "chunk.count"
	ChunkTokensKey = "chunk.tokens"

	RunCandidatesKey = "run.candidates"
	RunProcessedKey  = "run.processed"
	RunFailedKey     = "run.failed"
	RunSkippedKey    = "run.skipped"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// StreamAttributes creates span attributes identifying a single stream.
func StreamAttributes(videoID, house, stage string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if videoID != "" {
		attrs = append(attrs, attribute.String(StreamVideoIDKey, videoID))
	}
	if house != "" {
		attrs = append(attrs, attribute.String(StreamHouseKey, house))
	}
	if stage != "" {
		attrs = append(attrs, attribute.String(StreamStageKey, stage))
	}
	return attrs
}

// ChunkAttributes creates span attributes for a single map-phase chunk call.
func ChunkAttributes(index, count, tokens int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(ChunkIndexKey, index),
		attribute.Int(ChunkCountKey, count),
		attribute.Int(ChunkTokensKey, tokens),
	}
}

// RunAttributes creates span attributes summarizing one orchestrator run.
func RunAttributes(candidates, processed, failed, skipped int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(RunCandidatesKey, candidates),
		attribute.Int(RunProcessedKey, processed),
		attribute.Int(RunFailedKey, failed),
		attribute.Int(RunSkippedKey, skipped),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
