package program

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blockberries/valgov/governance"
	"github.com/blockberries/valgov/types"
)

type programMetrics struct {
	delegationsCreated prometheus.Counter
	delegationsRevoked prometheus.Counter
	votesForwarded     prometheus.Counter
	instructionErrors  *prometheus.CounterVec
}

func (p *Program) initMetrics() {
	promautoFactory := promauto.With(p.promRegistry)
	p.metrics = &programMetrics{}
	p.metrics.delegationsCreated = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "valgov_delegations_created_total",
		Help: "number of delegation records created",
	})
	p.metrics.delegationsRevoked = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "valgov_delegations_revoked_total",
		Help: "number of delegation records revoked",
	})
	p.metrics.votesForwarded = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "valgov_votes_forwarded_total",
		Help: "number of votes cast by delegates",
	})
	p.metrics.instructionErrors = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "valgov_instruction_errors_total",
			Help: "number of failed delegation program transactions by error kind",
		},
		[]string{"kind"},
	)
}

// ObserveOutcome updates the program metrics from a committed
// transaction outcome. Outcomes of simulations must not be observed.
func (p *Program) ObserveOutcome(out types.TxOutcome) {
	if p.metrics == nil {
		return
	}
	if !out.OK() {
		if kind := errorKind(out.Code); kind != "" {
			p.metrics.instructionErrors.WithLabelValues(kind).Inc()
		}
		return
	}
	for _, ev := range out.Events {
		switch ev.Kind {
		case EventDelegationCreated:
			p.metrics.delegationsCreated.Inc()
		case EventDelegationRevoked:
			p.metrics.delegationsRevoked.Inc()
		case EventVoteForwarded:
			p.metrics.votesForwarded.Inc()
		}
	}
}

// errorKind names the program error kind of a result code, or returns
// "" for codes the program does not produce.
func errorKind(code uint32) string {
	for kind, c := range kindCodes {
		if c == code {
			return kind.Error()
		}
	}
	if governance.IsErrorCode(code) {
		return ErrExternalService.Error()
	}
	return ""
}
