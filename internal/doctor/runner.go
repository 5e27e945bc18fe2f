package doctor

import (
	"context"

	"github.com/leeksaver/leeksaver/internal/domain"
	"github.com/leeksaver/leeksaver/internal/syncer"
)

// Runner adapts the doctor to the task runtime so the audit can run on its
// morning schedule like any other task.
type Runner struct {
	doc *Doctor
}

func NewRunner(doc *Doctor) *Runner { return &Runner{doc: doc} }

func (r *Runner) Name() string { return "data_doctor" }

func (r *Runner) Run(ctx context.Context) (syncer.Result, error) {
	report, err := r.doc.Run(ctx)
	if err != nil {
		return syncer.Result{}, err
	}
	res := syncer.Result{Targets: len(report.Checks), RowsWritten: report.BackfillJobs}
	for _, c := range report.Checks {
		if c.Status == domain.AuditHealthy {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}
	return res, nil
}
