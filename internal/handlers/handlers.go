package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/cocoa-roast-scan/internal/auth"
	"github.com/example/cocoa-roast-scan/internal/domain"
	"github.com/example/cocoa-roast-scan/internal/repository"
	"github.com/example/cocoa-roast-scan/internal/usecase"
)

// MaxUploadSize caps the image part of a multipart upload.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for boundaries and form headers around the image.
const multipartOverhead = 1 << 20

var allowedImageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
}

// ScanService is what the HTTP layer needs from the scan use case.
type ScanService interface {
	ScanImage(ctx context.Context, userID string, imageBytes []byte) (string, *domain.ScanResult, error)
	ClassifyImage(ctx context.Context, imageBytes []byte) (domain.RankedResult, error)
	GetResult(ctx context.Context, userID, scanID string) (*repository.ScanLog, error)
	GetDuplicateReport(ctx context.Context, userID, scanID string) (*usecase.DuplicateReport, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
	Availability() map[string]bool
}

type handler struct {
	svc    ScanService
	logger *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router. Routes under /v1
// run behind authMiddleware followed by any extra middleware.
func RegisterRoutes(router *gin.Engine, svc ScanService, logger *zap.Logger, authMiddleware gin.HandlerFunc, extra ...gin.HandlerFunc) {
	h := &handler{svc: svc, logger: logger.Named("http")}

	router.GET("/health", h.health)

	v1 := router.Group("/v1", append([]gin.HandlerFunc{authMiddleware}, extra...)...)
	v1.POST("/scan", h.scan)
	v1.POST("/classify", h.classify)
	v1.GET("/scans/:id", h.getScan)
	v1.GET("/scans/:id/duplicates", h.getDuplicates)
	v1.GET("/metrics", h.metrics)
}

func (h *handler) health(c *gin.Context) {
	slots := h.svc.Availability()
	status := "ok"
	for _, ok := range slots {
		if !ok {
			status = "degraded"
			break
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "models": slots})
}

func (h *handler) scan(c *gin.Context) {
	userID, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	data, ok := readUpload(c)
	if !ok {
		return
	}

	scanID, result, err := h.svc.ScanImage(c.Request.Context(), userID, data)
	if err != nil {
		h.writeError(c, scanID, err)
		return
	}

	c.JSON(http.StatusOK, scanResponse(scanID, result))
}

func (h *handler) classify(c *gin.Context) {
	data, ok := readUpload(c)
	if !ok {
		return
	}

	ranked, err := h.svc.ClassifyImage(c.Request.Context(), data)
	if err != nil {
		h.writeError(c, "", err)
		return
	}

	top, _ := ranked.Top()
	c.JSON(http.StatusOK, gin.H{
		"label":      top.Label,
		"confidence": top.Confidence,
		"ranking":    ranked,
	})
}

func (h *handler) getScan(c *gin.Context) {
	userID, _ := auth.GetUserID(c.Request.Context())
	scanID := c.Param("id")

	log, err := h.svc.GetResult(c.Request.Context(), userID, scanID)
	if err != nil {
		h.writeError(c, scanID, err)
		return
	}

	c.JSON(http.StatusOK, logResponse(log))
}

func (h *handler) getDuplicates(c *gin.Context) {
	userID, _ := auth.GetUserID(c.Request.Context())
	scanID := c.Param("id")

	report, err := h.svc.GetDuplicateReport(c.Request.Context(), userID, scanID)
	if err != nil {
		h.writeError(c, scanID, err)
		return
	}

	duplicates := make([]gin.H, 0, len(report.Duplicates))
	for _, d := range report.Duplicates {
		duplicates = append(duplicates, logResponse(d))
	}
	c.JSON(http.StatusOK, gin.H{
		"scan_id":    report.Request.ScanID,
		"sha1_hash":  report.Request.SHA1Hash,
		"duplicates": duplicates,
	})
}

func (h *handler) metrics(c *gin.Context) {
	summary, err := h.svc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		h.writeError(c, "", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// readUpload extracts the "image" part, writing the error response itself
// when the upload is unusable.
func readUpload(c *gin.Context) ([]byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return nil, false
	}
	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return nil, false
	}

	mediaType, _, err := mime.ParseMediaType(file.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}
	if _, ok := allowedImageTypes[strings.ToLower(mediaType)]; !ok {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "image must be jpeg, png or webp"})
		return nil, false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return nil, false
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return nil, false
	}
	return data, true
}

func (h *handler) writeError(c *gin.Context, scanID string, err error) {
	body := gin.H{}
	if scanID != "" {
		body["scan_id"] = scanID
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrModelUnavailable):
		status = http.StatusServiceUnavailable
		body["error"] = "model unavailable"
	case errors.Is(err, domain.ErrEmptyInput), errors.Is(err, domain.ErrPreprocessFailure):
		status = http.StatusUnprocessableEntity
		body["error"] = "could not classify"
	case errors.Is(err, usecase.ErrScanInProgress):
		status = http.StatusAccepted
		body["status"] = "processing"
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
		body["error"] = "result not found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		body["error"] = "request cancelled"
	default:
		body["error"] = "internal error"
	}
	if kind := domain.FailureKind(err); status != http.StatusAccepted && kind != "" {
		body["kind"] = kind
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
	}
	c.JSON(status, body)
}

func scanResponse(scanID string, r *domain.ScanResult) gin.H {
	return gin.H{
		"scan_id":            scanID,
		"shell":              r.ShellResult,
		"duration":           r.DurationResult,
		"color":              r.ColorResult,
		"formatted_color":    r.FormattedColor,
		"roasting_status":    r.RoastingStatus,
		"status_localized":   r.RoastingStatus.Localized(),
		"average_confidence": r.AverageConfidence,
	}
}

func logResponse(log *repository.ScanLog) gin.H {
	body := gin.H{
		"scan_id":               log.ScanID,
		"success":               log.Success,
		"sha1_hash":             log.SHA1Hash,
		"processing_latency_ms": log.ProcessingLatencyMs,
		"created_at":            log.CreatedAt.Format(time.RFC3339),
	}
	if result := log.Result(); result != nil {
		body["result"] = result
	} else {
		body["failure_kind"] = log.FailureKind
	}
	return body
}
