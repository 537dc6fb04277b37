package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facedoor/internal/capture"
	"github.com/your-org/facedoor/internal/identity"
	"github.com/your-org/facedoor/internal/imaging"
	"github.com/your-org/facedoor/internal/vision"
)

// errorStatus maps a service error to an HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, imaging.ErrDecode):
		return http.StatusBadRequest, "invalid_image"
	case errors.Is(err, imaging.ErrImageTooSmall):
		return http.StatusBadRequest, "image_too_small"
	case errors.Is(err, vision.ErrImageQualityRejected):
		return http.StatusBadRequest, "image_quality"
	case errors.Is(err, identity.ErrInvalidName):
		return http.StatusBadRequest, "invalid_name"
	case errors.Is(err, identity.ErrInvalidLabel):
		return http.StatusBadRequest, "invalid_label"
	case errors.Is(err, vision.ErrNoFaceDetected):
		return http.StatusUnprocessableEntity, "no_face"
	case errors.Is(err, identity.ErrDuplicateIdentity):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, identity.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, capture.ErrCaptureUnavailable):
		return http.StatusServiceUnavailable, "capture_unavailable"
	case errors.Is(err, vision.ErrBackendUnavailable):
		return http.StatusServiceUnavailable, "backend_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func respondError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		msg = "internal server error"
	}
	c.JSON(status, gin.H{"error": msg, "code": code})
}
