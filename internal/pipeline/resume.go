package pipeline

import (
	"context"
	"time"

	"github.com/clincite/clincite/internal/job"
)

// CheckResume re-launches a stuck job at most once. It runs on every status
// poll: a processing record whose heartbeat is older than the staleness
// threshold, with its upload still on disk and no prior resume, is flagged
// and re-enqueued from the start of the pipeline.
//
// resume_started is a best-effort guard, not a lock. Two processes polling
// the same stale job can both pass the check before either write lands and
// launch duplicate workers; the stage writes are idempotent per field, so
// the duplicates waste work but do not corrupt the record.
func (p *Pipeline) CheckResume(ctx context.Context, rec *job.Record) bool {
	if rec == nil || !rec.Resumable(time.Now().UTC(), p.staleAfter) {
		return false
	}

	started := true
	if err := p.deps.Store.Set(ctx, rec.ID, job.Update{ResumeStarted: &started, Heartbeat: true}); err != nil {
		p.logger.Error("failed to flag resume", "job_id", rec.ID, "error", err)
		return false
	}

	p.logger.Warn("stale job detected, resuming from persisted upload",
		"job_id", rec.ID,
		"heartbeat_age_s", int(time.Since(rec.HeartbeatAt).Seconds()))
	p.queue.enqueue(rec.ID)
	return true
}
