package metrics

import "time"

// ContentMetrics observes the content server.
type ContentMetrics interface {
	// RecordRequest records a completed LIST or FETCH with its outcome.
	RecordRequest(op string, duration time.Duration, err error)

	// RecordBytesServed adds file bytes streamed to mirrors.
	RecordBytesServed(bytes int64)

	// RecordFilesListed records the size of one enumeration.
	RecordFilesListed(count int)

	// SetQueueDepth reports connections waiting for a handler.
	SetQueueDepth(depth int)

	SetActiveConnections(count int32)
	RecordConnectionAccepted()
	RecordConnectionClosed()
	RecordConnectionForceClosed()
}

// NewNoopContentMetrics returns a ContentMetrics that records nothing.
func NewNoopContentMetrics() ContentMetrics { return noopContentMetrics{} }

type noopContentMetrics struct{}

func (noopContentMetrics) RecordRequest(string, time.Duration, error) {}
func (noopContentMetrics) RecordBytesServed(int64)                    {}
func (noopContentMetrics) RecordFilesListed(int)                      {}
func (noopContentMetrics) SetQueueDepth(int)                          {}
func (noopContentMetrics) SetActiveConnections(int32)                 {}
func (noopContentMetrics) RecordConnectionAccepted()                  {}
func (noopContentMetrics) RecordConnectionClosed()                    {}
func (noopContentMetrics) RecordConnectionForceClosed()               {}
