package authcore

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricOAuthLoginSuccess
	MetricOAuthLoginFailure
	MetricOAuthStateInvalid
	MetricOAuthExchangeFailure
	MetricPendingSignupCreated
	MetricPendingSignupCompleted
	MetricTOTPChallengeIssued
	MetricTOTPSuccess
	MetricTOTPFailure
	MetricBackupCodeUsed
	MetricBackupCodesRegenerated
	MetricSessionCreated
	MetricSessionDeleted

	metricCount
)

var metricNames = [metricCount]string{
	MetricLoginSuccess:           "login_success_total",
	MetricLoginFailure:           "login_failure_total",
	MetricOAuthLoginSuccess:      "oauth_login_success_total",
	MetricOAuthLoginFailure:      "oauth_login_failure_total",
	MetricOAuthStateInvalid:      "oauth_state_invalid_total",
	MetricOAuthExchangeFailure:   "oauth_exchange_failure_total",
	MetricPendingSignupCreated:   "pending_signup_created_total",
	MetricPendingSignupCompleted: "pending_signup_completed_total",
	MetricTOTPChallengeIssued:    "totp_challenge_issued_total",
	MetricTOTPSuccess:            "totp_success_total",
	MetricTOTPFailure:            "totp_failure_total",
	MetricBackupCodeUsed:         "backup_code_used_total",
	MetricBackupCodesRegenerated: "backup_codes_regenerated_total",
	MetricSessionCreated:         "session_created_total",
	MetricSessionDeleted:         "session_deleted_total",
}

// MetricName returns the stable exported name for a counter.
func MetricName(id MetricID) string {
	if id >= metricCount {
		return "unknown"
	}
	return metricNames[id]
}

// MetricIDs lists every counter, in export order.
func MetricIDs() []MetricID {
	ids := make([]MetricID, 0, metricCount)
	for id := MetricID(0); id < metricCount; id++ {
		ids = append(ids, id)
	}
	return ids
}

// Metrics is a fixed set of lock-free counters.
type Metrics struct {
	counters [metricCount]atomic.Uint64
}

func newMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	return &Metrics{}
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || id >= metricCount {
		return
	}
	m.counters[id].Add(1)
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Counters: make(map[MetricID]uint64, metricCount)}
	if m == nil {
		return snap
	}
	for id := MetricID(0); id < metricCount; id++ {
		snap.Counters[id] = m.counters[id].Load()
	}
	return snap
}
