package observability

import (
	"context"

	"github.com/overseer-labs/warden/pkg/contracts"
	"github.com/overseer-labs/warden/pkg/notify"
)

// MetricsSink translates governance events into metrics. Compose it with
// other sinks through notify.Fanout.
type MetricsSink struct {
	provider *Provider
}

// NewMetricsSink wraps a provider as a notification sink.
func NewMetricsSink(p *Provider) *MetricsSink {
	return &MetricsSink{provider: p}
}

var _ notify.Sink = (*MetricsSink)(nil)

func (s *MetricsSink) Publish(ctx context.Context, event contracts.Event) {
	switch event.Kind {
	case contracts.EventApprovalRequested:
		s.provider.RecordApprovalOpened(ctx)
	case contracts.EventApprovalResolved:
		s.provider.RecordApprovalResolved(ctx, "resolved")
	case contracts.EventTrainingProposed:
		s.provider.RecordTraining(ctx, "proposed")
	case contracts.EventTrainingApproved:
		s.provider.RecordTraining(ctx, "approved")
	case contracts.EventTrainingCompleted:
		s.provider.RecordTraining(ctx, "completed")
	}
}
