package endpoints

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/clincite/clincite/internal/api"
	"github.com/clincite/clincite/internal/job"
	"github.com/clincite/clincite/internal/jobstore"
	"github.com/clincite/clincite/internal/svcctx"
)

// JobStatusResponse is the polling payload. Data is present only when the
// job completed; Error only when it failed.
type JobStatusResponse struct {
	JobID      string        `json:"job_id"`
	Status     string        `json:"status"`
	Stage      string        `json:"stage,omitempty"`
	StageLabel string        `json:"stage_label,omitempty"`
	Progress   int           `json:"progress"`
	Data       *job.Analysis `json:"data,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// JobStatusEndpoint handles GET /api/jobs/{job_id}/status.
type JobStatusEndpoint struct{}

var _ api.Endpoint = (*JobStatusEndpoint)(nil)

func (e *JobStatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{job_id}/status", e.handler
}

func (e *JobStatusEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Poll analysis progress
//	@Description	Returns the job's current stage and progress. The analysis payload appears once the job completes. Polling a stuck job triggers an automatic resume.
//	@Tags			jobs
//	@Produce		json
//	@Param			job_id	path		string	true	"Job ID"
//	@Success		200		{object}	JobStatusResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/jobs/{job_id}/status [get]
func (e *JobStatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("job_id")

	store := svcctx.StoreFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "state store not initialized")
		return
	}

	rec, err := store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("job %s not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load job: %v", err))
		return
	}

	// A poll doubles as the staleness check: a quiet processing job gets
	// one automatic restart from its persisted upload.
	if pl := svcctx.PipelineFrom(r.Context()); pl != nil {
		pl.CheckResume(r.Context(), rec)
	}

	resp := JobStatusResponse{
		JobID:      rec.ID,
		Status:     string(rec.Status),
		Stage:      string(rec.Stage),
		StageLabel: rec.StageLabel,
		Progress:   rec.Progress,
	}
	switch rec.Status {
	case job.StatusComplete:
		resp.Data = rec.Result
	case job.StatusError:
		resp.Error = rec.Error
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *JobStatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job_id>",
		Short: "Poll analysis progress for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp JobStatusResponse
			if err := client.Get(cmd.Context(), "/api/jobs/"+args[0]+"/status", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
