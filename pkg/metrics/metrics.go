package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultError   = "error"
)

var (
	TwoFactorOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twofa_operations_total",
			Help: "Total number of 2FA operations by outcome.",
		},
		[]string{"operation", "result"},
	)

	BackupCodesConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twofa_backup_codes_consumed_total",
			Help: "Total number of backup codes consumed.",
		},
		[]string{"partition"},
	)
)

// MustRegister registers the 2FA collectors with the default registry
func MustRegister() {
	prometheus.MustRegister(
		TwoFactorOperationsTotal,
		BackupCodesConsumedTotal,
	)
}

// Observe increments the operation counter for a result
func Observe(operation, result string) {
	TwoFactorOperationsTotal.WithLabelValues(operation, result).Inc()
}
