// Package metrics defines Prometheus metrics for the authentication core.
//
// Counters carry the _total suffix and durations the _seconds suffix. All
// metrics register with the default Prometheus registry, which the HTTP
// server exposes on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result label values.
const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultDenied  = "denied"
	ResultLimited = "limited"
)

var (
	// LoginsTotal counts login attempts by credential method and outcome.
	LoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_logins_total",
			Help: "Login attempts by method and result.",
		},
		[]string{"method", "result"},
	)

	// SignupsTotal counts signup attempts by credential method and outcome.
	SignupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_signups_total",
			Help: "Signup attempts by method and result.",
		},
		[]string{"method", "result"},
	)

	// TokensIssuedTotal counts minted application credentials by type.
	TokensIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_tokens_issued_total",
			Help: "Application credentials issued by type.",
		},
		[]string{"type"},
	)

	// OAuthExchangeTotal counts provider round-trips by provider and outcome.
	OAuthExchangeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_oauth_exchange_total",
			Help: "OAuth provider calls by provider and result.",
		},
		[]string{"provider", "result"},
	)

	// HTTPRequestDuration observes handler latency by route pattern and status code.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authcore_http_request_duration_seconds",
			Help:    "HTTP request duration by route and status code.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "code"},
	)
)

func init() {
	prometheus.MustRegister(
		LoginsTotal,
		SignupsTotal,
		TokensIssuedTotal,
		OAuthExchangeTotal,
		HTTPRequestDuration,
	)
}

func result(err error) string {
	if err != nil {
		return ResultFailed
	}
	return ResultOK
}

// RecordLogin counts one login attempt. Pass an explicit result with RecordLoginResult.
func RecordLogin(method string, err error) { LoginsTotal.WithLabelValues(method, result(err)).Inc() }

// RecordLoginResult counts one login attempt with a caller-chosen result label.
func RecordLoginResult(method, res string) { LoginsTotal.WithLabelValues(method, res).Inc() }

// RecordSignup counts one signup attempt.
func RecordSignup(method string, err error) { SignupsTotal.WithLabelValues(method, result(err)).Inc() }

// RecordTokens counts the credentials present in a freshly issued pair.
func RecordTokens(access, refresh bool) {
	if access {
		TokensIssuedTotal.WithLabelValues("access").Inc()
	}
	if refresh {
		TokensIssuedTotal.WithLabelValues("refresh").Inc()
	}
}

// RecordOAuth counts one provider call.
func RecordOAuth(provider string, err error) {
	OAuthExchangeTotal.WithLabelValues(provider, result(err)).Inc()
}

// ObserveHTTP records one served request.
func ObserveHTTP(route string, code int, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(route, statusLabel(code)).Observe(d.Seconds())
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
