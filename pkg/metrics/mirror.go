package metrics

import "time"

// MirrorMetrics observes the mirror server.
type MirrorMetrics interface {
	// RecordSession records a finished session.
	RecordSession(duration time.Duration, sources, failedSources int)

	// RecordSourceFailure counts a content server that could not be reached.
	RecordSourceFailure()

	// RecordMatch counts an advertised path that passed the filter.
	RecordMatch()

	// RecordFetch records one download attempt. bytes is 0 on failure.
	RecordFetch(duration time.Duration, bytes int64, err error)

	// SetQueueDepth reports match records waiting for a worker.
	SetQueueDepth(depth int)
}

// NewNoopMirrorMetrics returns a MirrorMetrics that records nothing.
func NewNoopMirrorMetrics() MirrorMetrics { return noopMirrorMetrics{} }

type noopMirrorMetrics struct{}

func (noopMirrorMetrics) RecordSession(time.Duration, int, int)   {}
func (noopMirrorMetrics) RecordSourceFailure()                    {}
func (noopMirrorMetrics) RecordMatch()                            {}
func (noopMirrorMetrics) RecordFetch(time.Duration, int64, error) {}
func (noopMirrorMetrics) SetQueueDepth(int)                       {}
