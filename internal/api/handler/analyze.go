package handler

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/kiranshivaraju/findoc/internal/api/response"
	"github.com/kiranshivaraju/findoc/internal/storage"
	"github.com/kiranshivaraju/findoc/pkg/models"
	"go.uber.org/zap"
)

const (
	fileField  = "file"
	queryField = "query"

	maxQueryBytes = 64 << 10
)

// Submitter defines the job submission the analyze handler depends on.
type Submitter interface {
	Submit(ctx context.Context, fileRef, query string) (*models.Job, error)
}

type analyzeResponse struct {
	Status        string `json:"status"`
	TaskID        string `json:"task_id"`
	Message       string `json:"message"`
	FileProcessed string `json:"file_processed"`
}

// NewAnalyzeHandler returns an http.HandlerFunc for POST /analyze.
// The file part is streamed into storage as it arrives; the gateway never looks inside it.
func NewAnalyzeHandler(files storage.Store, svc Submitter, maxBytes int64, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

		mr, err := r.MultipartReader()
		if err != nil {
			response.Error(w, http.StatusBadRequest, "Request must be multipart/form-data")
			return
		}

		var (
			fileRef  string
			filename string
			query    string
		)
		removeUpload := func() {
			if fileRef != "" {
				storage.CleanupUpload(context.WithoutCancel(r.Context()), files, fileRef, logger)
			}
		}

		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				removeUpload()
				writeReadError(w, err)
				return
			}

			switch {
			case part.FormName() == fileField && fileRef == "":
				filename = part.FileName()
				fileRef, err = files.Save(r.Context(), part)
				if err != nil {
					part.Close()
					fileRef = ""
					var tooLarge *http.MaxBytesError
					if errors.As(err, &tooLarge) {
						writeReadError(w, err)
						return
					}
					logger.Error("failed to store upload", zap.Error(err))
					response.Error(w, http.StatusInternalServerError, "Failed to store uploaded file")
					return
				}
			case part.FormName() == queryField:
				query, err = readField(part)
				if err != nil {
					part.Close()
					removeUpload()
					writeReadError(w, err)
					return
				}
			}
			part.Close()
		}

		if fileRef == "" {
			response.Error(w, http.StatusBadRequest, "file is required")
			return
		}

		job, err := svc.Submit(r.Context(), fileRef, query)
		if err != nil {
			logger.Error("failed to submit analysis", zap.String("file_ref", fileRef), zap.Error(err))
			removeUpload()
			response.Error(w, http.StatusInternalServerError, "Failed to start analysis")
			return
		}

		response.OK(w, analyzeResponse{
			Status:        response.StatusProcessing,
			TaskID:        job.ID.String(),
			Message:       "Analysis started in background",
			FileProcessed: filename,
		})
	}
}

func readField(p *multipart.Part) (string, error) {
	b, err := io.ReadAll(io.LimitReader(p, maxQueryBytes+1))
	if err != nil {
		return "", err
	}
	if len(b) > maxQueryBytes {
		return "", errQueryTooLong
	}
	return string(b), nil
}

var errQueryTooLong = errors.New("query is too long")

func writeReadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		response.Error(w, http.StatusRequestEntityTooLarge, "Uploaded file is too large")
	case errors.Is(err, errQueryTooLong):
		response.Error(w, http.StatusBadRequest, err.Error())
	default:
		response.Error(w, http.StatusBadRequest, "Malformed multipart body")
	}
}
