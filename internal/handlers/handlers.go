package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/kidney-seg/internal/faults"
	"github.com/example/kidney-seg/internal/pipeline"
	"github.com/example/kidney-seg/internal/stream"
	"github.com/example/kidney-seg/internal/usecase"
)

// MaxUploadSize bounds uploaded files.
const MaxUploadSize = 10 << 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// RegisterRoutes wires the HTTP handlers to the Gin router. authMiddleware
// may be nil, in which case the API is open.
func RegisterRoutes(router *gin.Engine, uc *usecase.SegmentationUseCase, pipe *pipeline.FramePipeline, logger *zap.Logger, authMiddleware gin.HandlerFunc) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Kidney Segmentation API is running"})
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "healthy",
			"model_loaded": uc.Ready(),
		})
	})

	// The websocket handshake cannot carry an Authorization header from a
	// browser, so the streaming endpoint stays public alongside health.
	router.GET("/ws/process-frame", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		stream.NewSession(conn, pipe, logger).Run(c.Request.Context())
	})

	api := gin.IRoutes(router)
	if authMiddleware != nil {
		api = router.Group("", authMiddleware)
	}

	api.POST("/upload-image", func(c *gin.Context) {
		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "image file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "error": "file too large"})
			return
		}
		if !strings.HasPrefix(file.Header.Get("Content-Type"), "image/") {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "File must be an image"})
			return
		}

		if !uc.Ready() {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Model service not available"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unable to open image"})
			return
		}
		defer src.Close()

		contents, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to read image"})
			return
		}

		requestID, result, err := uc.ProcessUpload(c.Request.Context(), contents)
		if err != nil {
			status, message := uploadErrorResponse(err)
			c.JSON(status, gin.H{"success": false, "error": message})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":           true,
			"request_id":        requestID,
			"original_image":    result.OriginalImage,
			"segmentation_mask": result.SegmentationMask,
			"overlay":           result.Overlay,
		})
	})

	// Video batch processing is a deliberate stub: the upload is validated
	// and acknowledged, nothing is extracted.
	api.POST("/upload-video", func(c *gin.Context) {
		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "video file is required"})
			return
		}
		if !strings.HasPrefix(file.Header.Get("Content-Type"), "video/") {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "File must be a video"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":          true,
			"processed_frames": 0,
			"processing_time":  0,
		})
	})

	api.GET("/result/:id", func(c *gin.Context) {
		log, err := uc.GetResult(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"request_id":         log.RequestID,
			"sha1_hash":          log.SHA1Hash,
			"width":              log.Width,
			"height":             log.Height,
			"success":            log.Success,
			"details":            log.Details,
			"processing_time_ms": log.ProcessingTimeMs,
			"created_at":         log.CreatedAt,
		})
	})

	api.GET("/result/:id/duplicates", func(c *gin.Context) {
		report, err := uc.GetDuplicateReport(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}
		c.JSON(http.StatusOK, report)
	})

	api.GET("/metrics", func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			if errors.Is(err, usecase.ErrResultUnavailable) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics not available"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// uploadErrorResponse maps the error taxonomy onto HTTP statuses: input
// faults reject the request, engine faults report unavailability, the rest
// surface as processing failures.
func uploadErrorResponse(err error) (int, string) {
	switch faults.KindOf(err) {
	case faults.KindInput:
		return http.StatusBadRequest, "Invalid image file"
	case faults.KindEngine:
		return http.StatusInternalServerError, "Model service not available"
	default:
		return http.StatusInternalServerError, "Model processing failed: " + err.Error()
	}
}
