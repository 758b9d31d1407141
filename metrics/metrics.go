package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics holds the ledger's business counters. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	DemandsCosted     *prometheus.CounterVec
	CoveredHours      prometheus.Counter
	OverageHours      prometheus.Counter
	HoursRefunded     prometheus.Counter
	InvoicesGenerated prometheus.Counter
	InvoicedValue     prometheus.Counter
	EmptyBillingRuns  prometheus.Counter
	TicketsCascaded   prometheus.Counter
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		DemandsCosted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskledger_demands_costed_total",
				Help: "Demands priced by the costing engine",
			},
			[]string{"source"}, // subscription or adhoc
		),
		CoveredHours: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deskledger_covered_hours_total",
			Help: "Hours deducted from subscription balances",
		}),
		OverageHours: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deskledger_overage_hours_total",
			Help: "Hours billed at the overage rate",
		}),
		HoursRefunded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deskledger_hours_refunded_total",
			Help: "Hours credited back to subscriptions",
		}),
		InvoicesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deskledger_invoices_generated_total",
			Help: "Monthly invoices assembled from demands",
		}),
		InvoicedValue: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deskledger_invoiced_value_total",
			Help: "Sum of monthly invoice values",
		}),
		EmptyBillingRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deskledger_empty_billing_runs_total",
			Help: "Billing runs that found nothing to bill",
		}),
		TicketsCascaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deskledger_tickets_auto_completed_total",
			Help: "Tickets completed because their last open demand completed",
		}),
	}

	registry.MustRegister(
		m.DemandsCosted,
		m.CoveredHours,
		m.OverageHours,
		m.HoursRefunded,
		m.InvoicesGenerated,
		m.InvoicedValue,
		m.EmptyBillingRuns,
		m.TicketsCascaded,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveCosting(adhoc bool, covered, overage decimal.Decimal) {
	if m == nil {
		return
	}
	source := "subscription"
	if adhoc {
		source = "adhoc"
	}
	m.DemandsCosted.WithLabelValues(source).Inc()
	m.CoveredHours.Add(covered.InexactFloat64())
	m.OverageHours.Add(overage.InexactFloat64())
}

func (m *Metrics) ObserveRefund(hours decimal.Decimal) {
	if m == nil {
		return
	}
	m.HoursRefunded.Add(hours.InexactFloat64())
}

func (m *Metrics) ObserveInvoice(value decimal.Decimal) {
	if m == nil {
		return
	}
	m.InvoicesGenerated.Inc()
	m.InvoicedValue.Add(value.InexactFloat64())
}

func (m *Metrics) ObserveEmptyRun() {
	if m == nil {
		return
	}
	m.EmptyBillingRuns.Inc()
}

func (m *Metrics) ObserveCascade() {
	if m == nil {
		return
	}
	m.TicketsCascaded.Inc()
}
