package endpoints

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/clincite/clincite/internal/api"
	"github.com/clincite/clincite/internal/job"
	"github.com/clincite/clincite/internal/svcctx"
)

// maxUploadMemory bounds the in-memory portion of multipart parsing.
const maxUploadMemory = 64 << 20 // 64MB

// CreateJobResponse is returned when a document is accepted for analysis.
type CreateJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// CreateJobEndpoint handles POST /api/jobs with a multipart document upload.
type CreateJobEndpoint struct{}

var _ api.Endpoint = (*CreateJobEndpoint)(nil)

func (e *CreateJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs", e.handler
}

func (e *CreateJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Upload a clinical document for analysis
//	@Description	Accepts a document, persists it, and queues the analysis pipeline. Returns immediately; poll the status endpoint for progress.
//	@Tags			jobs
//	@Accept			mpfd
//	@Produce		json
//	@Param			file		formData	file	true	"Document to analyze (pdf, image, or txt)"
//	@Param			force_ocr	formData	bool	false	"Skip the text layer and OCR the document"
//	@Success		202		{object}	CreateJobResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/jobs [post]
func (e *CreateJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read upload: %v", err))
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "uploaded file is empty")
		return
	}

	forceOCR := r.FormValue("force_ocr") == "true"

	uploadStore := svcctx.UploadsFrom(r.Context())
	pl := svcctx.PipelineFrom(r.Context())
	if uploadStore == nil || pl == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not initialized")
		return
	}

	rec := job.NewRecord(header.Filename, "", forceOCR)
	key, err := uploadStore.Save(rec.ID, header.Filename, data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to persist upload: %v", err))
		return
	}
	rec.UploadKey = key

	if err := pl.Submit(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to queue job: %v", err))
		return
	}

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		JobID:  rec.ID,
		Status: string(rec.Status),
	})
}

func (e *CreateJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	var forceOCR bool
	cmd := &cobra.Command{
		Use:   "create <file>",
		Short: "Upload a document for analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			fields := map[string]string{}
			if forceOCR {
				fields["force_ocr"] = "true"
			}

			client := api.NewClient(getServerURL())
			var resp CreateJobResponse
			if err := client.PostFile(cmd.Context(), "/api/jobs", "file",
				filepath.Base(args[0]), data, fields, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().BoolVar(&forceOCR, "force-ocr", false, "Skip the text layer and OCR the document")
	return cmd
}
