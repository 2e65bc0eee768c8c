package metrics

import "github.com/prometheus/client_golang/prometheus"

// LedgerMetrics tracks settlement outcomes and balance safety signals.
type LedgerMetrics struct {
	reconcile *prometheus.CounterVec
	denied    *prometheus.CounterVec
	drift     prometheus.Counter
	referrals *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	reconcile := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_outcomes_total",
		Help: "Payment reconciliation attempts by outcome and source.",
	}, []string{"outcome", "source"})
	denied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumption_denied_total",
		Help: "Credit debits refused for insufficient balance.",
	}, []string{"resource"})
	drift := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "balance_drift_total",
		Help: "Accounts whose cached balance disagrees with their ledger entries.",
	})
	referrals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "referral_applications_total",
		Help: "Referral code applications by result.",
	}, []string{"result"})
	reg.MustRegister(reconcile, denied, drift, referrals)
	return &LedgerMetrics{
		reconcile: reconcile,
		denied:    denied,
		drift:     drift,
		referrals: referrals,
	}
}

func (m *LedgerMetrics) IncReconcile(outcome, source string) {
	if m == nil || m.reconcile == nil {
		return
	}
	m.reconcile.WithLabelValues(normalizeLabel(outcome), normalizeLabel(source)).Inc()
}

func (m *LedgerMetrics) IncConsumptionDenied(resource string) {
	if m == nil || m.denied == nil {
		return
	}
	m.denied.WithLabelValues(normalizeLabel(resource)).Inc()
}

func (m *LedgerMetrics) AddBalanceDrift(accounts int) {
	if m == nil || m.drift == nil || accounts <= 0 {
		return
	}
	m.drift.Add(float64(accounts))
}

func (m *LedgerMetrics) IncReferral(result string) {
	if m == nil || m.referrals == nil {
		return
	}
	m.referrals.WithLabelValues(normalizeLabel(result)).Inc()
}
