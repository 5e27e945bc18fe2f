package domain

import "time"

// AuditStatus grades a single audit check.
type AuditStatus string

const (
	AuditHealthy  AuditStatus = "healthy"
	AuditWarning  AuditStatus = "warning"
	AuditCritical AuditStatus = "critical"
)

// AuditCheck is one metric evaluated by the data doctor.
type AuditCheck struct {
	Metric    string         `json:"metric"`
	Status    AuditStatus    `json:"status"`
	Value     float64        `json:"value"`
	Threshold float64        `json:"threshold"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// AuditReport is one full doctor run, persisted for operator review.
type AuditReport struct {
	ID             int64        `json:"id"`
	RunAt          time.Time    `json:"run_at"`
	Checks         []AuditCheck `json:"checks"`
	ActionRequired bool         `json:"action_required"`
	BackfillJobs   int          `json:"backfill_jobs"`
}

// Passed reports whether every check came back healthy.
func (r *AuditReport) Passed() bool {
	for _, c := range r.Checks {
		if c.Status != AuditHealthy {
			return false
		}
	}
	return true
}
