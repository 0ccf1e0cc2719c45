// Package metrics exposes giving pipeline health signals.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the const labels attached to every series.
type Config struct {
	ServiceName string
	Environment string
}

// GivingMetrics captures webhook and ledger throughput.
type GivingMetrics struct {
	webhookEvents     *prometheus.CounterVec
	webhookFailures   *prometheus.CounterVec
	donationsRecorded *prometheus.CounterVec
	donationAmount    *prometheus.CounterVec
	providerRequests  *prometheus.CounterVec
}

var (
	givingMetricsOnce sync.Once
	givingMetrics     *GivingMetrics
)

// Giving returns the singleton metrics registry.
func Giving() *GivingMetrics {
	return GivingWithConfig(Config{})
}

// GivingWithConfig returns the singleton metrics registry using config labels.
func GivingWithConfig(cfg Config) *GivingMetrics {
	givingMetricsOnce.Do(func() {
		givingMetrics = newGivingMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return givingMetrics
}

// ResetGivingMetricsForTest resets the metrics singleton for tests.
func ResetGivingMetricsForTest() {
	givingMetricsOnce = sync.Once{}
	givingMetrics = nil
}

func newGivingMetrics(registerer prometheus.Registerer, cfg Config) *GivingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "giving"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "giving_webhook_events_total",
		Help:        "Provider webhook events received by provider and outcome.",
		ConstLabels: constLabels,
	}, []string{"provider", "outcome"})
	webhookFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "giving_webhook_failures_total",
		Help:        "Webhook events that failed after being logged; these retry until resolved.",
		ConstLabels: constLabels,
	}, []string{"provider"})
	donationsRecorded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "giving_donations_recorded_total",
		Help:        "Donations written to the ledger by provider.",
		ConstLabels: constLabels,
	}, []string{"provider"})
	donationAmount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "giving_donation_amount_cents_total",
		Help:        "Total donated amount in cents by provider.",
		ConstLabels: constLabels,
	}, []string{"provider"})
	providerRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "giving_provider_requests_total",
		Help:        "Outbound provider API calls by provider and outcome.",
		ConstLabels: constLabels,
	}, []string{"provider", "outcome"})

	registerer.MustRegister(
		webhookEvents,
		webhookFailures,
		donationsRecorded,
		donationAmount,
		providerRequests,
	)

	return &GivingMetrics{
		webhookEvents:     webhookEvents,
		webhookFailures:   webhookFailures,
		donationsRecorded: donationsRecorded,
		donationAmount:    donationAmount,
		providerRequests:  providerRequests,
	}
}

// IncWebhookEvent counts a received webhook by outcome
// (recorded, duplicate, ignored, rejected, failed).
func (m *GivingMetrics) IncWebhookEvent(provider, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(provider, outcome).Inc()
}

// IncWebhookFailure counts a post-log processing failure.
func (m *GivingMetrics) IncWebhookFailure(provider string) {
	if m == nil || m.webhookFailures == nil {
		return
	}
	m.webhookFailures.WithLabelValues(provider).Inc()
}

// IncDonationRecorded counts a ledger write and its amount.
func (m *GivingMetrics) IncDonationRecorded(provider string, amount int64) {
	if m == nil {
		return
	}
	if m.donationsRecorded != nil {
		m.donationsRecorded.WithLabelValues(provider).Inc()
	}
	if m.donationAmount != nil && amount > 0 {
		m.donationAmount.WithLabelValues(provider).Add(float64(amount))
	}
}

// IncProviderRequest counts an outbound provider call by outcome (ok, error).
func (m *GivingMetrics) IncProviderRequest(provider, outcome string) {
	if m == nil || m.providerRequests == nil {
		return
	}
	m.providerRequests.WithLabelValues(provider, outcome).Inc()
}
