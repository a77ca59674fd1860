package recorder

import "context"

// NoopRecorder is used when no recorder is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordAnalysis(_ context.Context, _ *AnalysisRecord) error { return nil }
func (n *NoopRecorder) Close() error                                               { return nil }
