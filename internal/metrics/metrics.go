package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReconcileTicks counts reconciliation passes by outcome
	ReconcileTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usdt_tracker_reconcile_ticks_total",
			Help: "The total number of reconciliation passes",
		},
		[]string{"status"}, // ok, panic
	)

	// ReconcileDuration tracks how long a full pass takes
	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "usdt_tracker_reconcile_duration_seconds",
		Help:    "Time taken by one reconciliation pass",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
	})

	// WatchedWallets is the number of wallets visited in the last pass
	WatchedWallets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "usdt_tracker_watched_wallets",
		Help: "The number of wallets visited by the last reconciliation pass",
	})

	// TransfersSeen counts incoming transfers observed on chain
	TransfersSeen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "usdt_tracker_transfers_seen_total",
		Help: "Incoming transfers observed on watched wallets",
	})

	// PaymentsConfirmed counts credited payments
	PaymentsConfirmed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usdt_tracker_payments_confirmed_total",
			Help: "The total number of credited payments",
		},
		[]string{"mode"}, // matched, auto
	)

	// DuplicateConfirmations counts confirmations lost to the uniqueness constraint
	DuplicateConfirmations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "usdt_tracker_duplicate_confirmations_total",
		Help: "Confirmation attempts rejected because the transaction was already credited",
	})

	// WalletErrors counts wallets skipped in a pass
	WalletErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usdt_tracker_wallet_errors_total",
			Help: "Wallets whose processing failed in a pass",
		},
		[]string{"stage"}, // fetch, store, ownership
	)

	// PaymentsExpired counts pending payments moved to expired
	PaymentsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "usdt_tracker_payments_expired_total",
		Help: "Pending payments that reached their TTL",
	})

	// ChainRequests counts TronGrid calls by status
	ChainRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usdt_tracker_chain_requests_total",
			Help: "TronGrid HTTP requests",
		},
		[]string{"status"}, // success, retry, failed
	)

	// NotificationsSent counts sink deliveries
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usdt_tracker_notifications_total",
			Help: "Notification deliveries by sink and status",
		},
		[]string{"sink", "status"},
	)
)

// RecordTick records a finished pass
func RecordTick(status string, duration time.Duration, wallets int) {
	ReconcileTicks.WithLabelValues(status).Inc()
	ReconcileDuration.Observe(duration.Seconds())
	WatchedWallets.Set(float64(wallets))
}

// RecordConfirmation records a credited payment
func RecordConfirmation(mode string) {
	PaymentsConfirmed.WithLabelValues(mode).Inc()
}

// RecordWalletError records a wallet skipped at the given stage
func RecordWalletError(stage string) {
	WalletErrors.WithLabelValues(stage).Inc()
}

// RecordChainRequest records a TronGrid request outcome
func RecordChainRequest(status string) {
	ChainRequests.WithLabelValues(status).Inc()
}

// RecordNotification records a sink delivery
func RecordNotification(sink string, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	NotificationsSent.WithLabelValues(sink, status).Inc()
}
