package main

import (
	"encoding/csv"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type uploadResponse struct {
	JobID     string `json:"job_id"`
	TotalRows int    `json:"total_rows"`
	Message   string `json:"message"`
}

// handleUpload turns a CSV of addresses into a batch job and fans the
// rows out to the workers.
func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST", "")
		return
	}

	// 10MB cap on the multipart form.
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "file too large or malformed", err.Error())
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "missing 'file' field in form data", "")
		return
	}
	defer file.Close()

	aggressive := r.FormValue("aggressive") == "true" || r.FormValue("aggressive") == "1"

	// Addresses live in the first column. Rows without an @ are dropped,
	// which also skips a header line.
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	var emails []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid CSV", err.Error())
			return
		}
		if len(record) > 0 && strings.Contains(record[0], "@") {
			emails = append(emails, strings.TrimSpace(record[0]))
		}
	}

	if len(emails) == 0 {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "CSV contains no email addresses", "")
		return
	}

	jobID := uuid.New().String()
	ctx := r.Context()

	if err := s.store.CreateJob(ctx, jobID, len(emails)); err != nil {
		s.log.Error().Err(err).Str("job_id", jobID).Msg("create job failed")
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to create job", "")
		return
	}

	if err := s.queue.Enqueue(ctx, jobID, emails, aggressive); err != nil {
		s.log.Error().Err(err).Str("job_id", jobID).Msg("enqueue failed, job stays pending")
		writeError(w, http.StatusInternalServerError, "QUEUE_ERROR", "failed to enqueue tasks", "")
		return
	}

	s.log.Info().Str("job_id", jobID).Int("rows", len(emails)).Bool("aggressive", aggressive).Msg("batch accepted")
	writeJSON(w, http.StatusOK, uploadResponse{
		JobID:     jobID,
		TotalRows: len(emails),
		Message:   "Job created, processing started",
	})
}
