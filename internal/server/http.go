package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/metrics"
)

const apiKeyHeader = "X-API-Key"

type HTTPConfig struct {
	APIKey         string // empty disables the check
	MaxUploadBytes int64
	Mode           string // gin mode: release, test or debug
}

type HTTPHandler struct {
	tasks  Tasks
	cfg    HTTPConfig
	logger *slog.Logger
}

func NewHTTPHandler(tasks Tasks, cfg HTTPConfig, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 100 << 20
	}
	return &HTTPHandler{tasks: tasks, cfg: cfg, logger: logger}
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(tasks Tasks, cfg HTTPConfig, logger *slog.Logger) *gin.Engine {
	switch cfg.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
	h := NewHTTPHandler(tasks, cfg, logger)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(h.requestLogger())
	r.Use(observe())

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	h.RegisterRoutes(r.Group("/", h.apiKey()))
	return r
}

// RegisterRoutes registers the task routes on g.
func (h *HTTPHandler) RegisterRoutes(g *gin.RouterGroup) {
	g.POST("/upload", h.Upload)
	g.GET("/status/:task_id", h.Status)
	g.GET("/tasks/:task_id", h.Task)
	g.GET("/download/:task_id", h.Download)
	g.GET("/validation/:task_id", h.Validation)
	g.GET("/anomalies/:task_id", h.Anomalies)
	g.POST("/cancel/:task_id", h.Cancel)
	g.GET("/ws/:task_id", h.Watch)
}

type uploadResponse struct {
	TaskID string               `json:"task_id"`
	Status constants.TaskStatus `json:"status"`
}

func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Upload accepts a multipart form with one or more "files" parts and
// submits them as a single task.
func (h *HTTPHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes)
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(c, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", h.cfg.MaxUploadBytes))
			return
		}
		h.fail(c, http.StatusBadRequest, fmt.Errorf("invalid multipart form: %w", err))
		return
	}

	headers := form.File["files"]
	files := make([]entity.SourceFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			h.fail(c, http.StatusBadRequest, fmt.Errorf("open %s: %w", fh.Filename, err))
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			h.fail(c, http.StatusBadRequest, fmt.Errorf("read %s: %w", fh.Filename, err))
			return
		}
		files = append(files, entity.SourceFile{
			Name:     fh.Filename,
			MIMEType: fh.Header.Get("Content-Type"),
			Data:     data,
		})
	}

	id, err := h.tasks.Submit(c.Request.Context(), files)
	if err != nil {
		h.fail(c, httpStatus(err), err)
		return
	}
	h.logger.Info("http.upload.ok", "task_id", id, "files", len(files))
	c.JSON(http.StatusAccepted, uploadResponse{TaskID: id, Status: constants.TaskStatusPending})
}

func (h *HTTPHandler) Status(c *gin.Context) {
	v, err := h.tasks.GetStatus(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		h.fail(c, httpStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// Task returns the full snapshot including per-file states.
func (h *HTTPHandler) Task(c *gin.Context) {
	t, err := h.tasks.GetTask(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		h.fail(c, httpStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *HTTPHandler) Download(c *gin.Context) {
	id := c.Param("task_id")
	format, ok := constants.ParseExportFormat(c.DefaultQuery("format", "csv"))
	if !ok {
		h.fail(c, http.StatusBadRequest, fmt.Errorf("invalid format %q: %w", c.Query("format"), common.ErrInvalidInput))
		return
	}
	data, err := h.tasks.GetResult(c.Request.Context(), id, format)
	if err != nil {
		h.fail(c, httpStatus(err), err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_invoices.%s"`, id, format.Ext()))
	c.Data(http.StatusOK, format.ContentType(), data)
}

func (h *HTTPHandler) Validation(c *gin.Context) {
	v, err := h.tasks.GetValidation(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		h.fail(c, httpStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *HTTPHandler) Anomalies(c *gin.Context) {
	a, err := h.tasks.GetAnomalies(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		h.fail(c, httpStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *HTTPHandler) Cancel(c *gin.Context) {
	id := c.Param("task_id")
	if err := h.tasks.Cancel(c.Request.Context(), id); err != nil {
		h.fail(c, httpStatus(err), err)
		return
	}
	v, err := h.tasks.GetStatus(c.Request.Context(), id)
	if err != nil {
		h.fail(c, httpStatus(err), err)
		return
	}
	c.JSON(http.StatusAccepted, v)
}

func (h *HTTPHandler) fail(c *gin.Context, code int, err error) {
	log := common.Logger(c.Request.Context(), h.logger)
	if code >= http.StatusInternalServerError {
		log.Error("http.request.failed", "path", c.FullPath(), "error", err)
	} else {
		log.Warn("http.request.rejected", "path", c.FullPath(), "status", code, "error", err)
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

// apiKey rejects requests without the configured key. The websocket route
// may pass it as the api_key query parameter since browsers cannot set
// headers on upgrade requests.
func (h *HTTPHandler) apiKey() gin.HandlerFunc {
	want := []byte(h.cfg.APIKey)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.Next()
			return
		}
		got := c.GetHeader(apiKeyHeader)
		if got == "" {
			got = c.Query("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			h.fail(c, http.StatusUnauthorized, common.ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func (h *HTTPHandler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Request = c.Request.WithContext(common.WithRequestID(c.Request.Context(), requestID))
		c.Header("X-Request-ID", requestID)

		c.Next()

		h.logger.Debug("http.request",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}
}

func observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
