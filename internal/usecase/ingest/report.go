package ingest

import (
	"time"

	"go.uber.org/zap"
)

// Report summarizes one batch job.
type Report struct {
	JobID         string
	Namespace     string
	Total         int
	Upserted      int
	Failed        int
	Batches       int
	FailedBatches int
	Duration      time.Duration
}

// Fields renders the report as log fields.
func (r *Report) Fields() []zap.Field {
	return []zap.Field{
		zap.String("job_id", r.JobID),
		zap.String("namespace", r.Namespace),
		zap.Int("total", r.Total),
		zap.Int("upserted", r.Upserted),
		zap.Int("failed", r.Failed),
		zap.Int("batches", r.Batches),
		zap.Int("failed_batches", r.FailedBatches),
		zap.Duration("duration", r.Duration),
	}
}
