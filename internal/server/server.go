// Package server exposes the task coordinator over HTTP (gin, websocket)
// and gRPC.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/task"
)

// Tasks is the coordinator surface both transports serve.
type Tasks interface {
	Submit(ctx context.Context, files []entity.SourceFile) (string, error)
	GetStatus(ctx context.Context, id string) (entity.StatusView, error)
	GetTask(ctx context.Context, id string) (entity.Task, error)
	GetResult(ctx context.Context, id string, format constants.ExportFormat) ([]byte, error)
	GetValidation(ctx context.Context, id string) (entity.ValidationResult, error)
	GetAnomalies(ctx context.Context, id string) ([]entity.Anomaly, error)
	Cancel(ctx context.Context, id string) error
	Subscribe(ctx context.Context, id string) (<-chan entity.StatusView, func(), error)
}

var _ Tasks = (*task.Coordinator)(nil)

// httpStatus maps the error taxonomy onto HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, common.ErrUnsupportedFormat),
		errors.Is(err, common.ErrEmptyBatch),
		errors.Is(err, common.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, task.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
