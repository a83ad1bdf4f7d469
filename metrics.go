package offsync

import "time"

// MetricsCollector provides hooks for observability.
type MetricsCollector interface {
	// RecordSyncDuration records how long a sync pass took
	RecordSyncDuration(op string, d time.Duration)

	// RecordReplays records replay outcomes within a pass
	RecordReplays(succeeded, failed int)

	// RecordPromotions records how many operations were promoted to conflicts
	RecordPromotions(count int)

	// RecordResolutions records applied conflict resolutions by strategy
	RecordResolutions(strategy ResolutionStrategy, count int)

	// RecordSyncErrors records sync operation errors
	RecordSyncErrors(op, reason string)
}

// NoOpMetricsCollector is a stub implementation that discards metrics.
type NoOpMetricsCollector struct{}

func (*NoOpMetricsCollector) RecordSyncDuration(op string, d time.Duration)             {}
func (*NoOpMetricsCollector) RecordReplays(succeeded, failed int)                       {}
func (*NoOpMetricsCollector) RecordPromotions(count int)                                {}
func (*NoOpMetricsCollector) RecordResolutions(strategy ResolutionStrategy, count int)  {}
func (*NoOpMetricsCollector) RecordSyncErrors(op, reason string)                        {}
