package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facedoor/internal/identity"
	"github.com/your-org/facedoor/internal/service"
	"github.com/your-org/facedoor/pkg/dto"
)

// MaxImageBytes bounds uploaded request bodies.
const MaxImageBytes = 20 << 20

// FaceService is the part of *service.Service the face endpoints use.
type FaceService interface {
	Enroll(ctx context.Context, req service.EnrollRequest) (service.EnrollmentResult, error)
	Recognize(ctx context.Context, image []byte) (service.MatchResult, error)
	EnrollFromCamera(ctx context.Context, name, label string, mode identity.Mode) (service.EnrollmentResult, error)
	RecognizeFromCamera(ctx context.Context) (service.MatchResult, error)
	DeleteIdentity(ctx context.Context, name string) (bool, error)
	DeleteVariation(ctx context.Context, name, label string) (bool, error)
	ListIdentities() []service.IdentitySummary
	Variations(name string) ([]service.VariationInfo, error)
	Metadata() identity.Metadata
}

type FaceHandler struct {
	svc FaceService
}

func NewFaceHandler(svc FaceService) *FaceHandler {
	return &FaceHandler{svc: svc}
}

// Enroll accepts a JSON body with a base64 image or a multipart upload
// with an "image" file.
func (h *FaceHandler) Enroll(c *gin.Context) {
	var req dto.EnrollRequest
	image, err := readImage(c, &req, func() string { return req.Image })
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_request"})
		return
	}
	mode, err := parseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_request"})
		return
	}

	res, err := h.svc.Enroll(c.Request.Context(), service.EnrollRequest{
		Name:  req.Name,
		Label: req.Label,
		Image: image,
		Mode:  mode,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, enrollResponse(res))
}

func (h *FaceHandler) Recognize(c *gin.Context) {
	var req dto.RecognizeRequest
	image, err := readImage(c, &req, func() string { return req.Image })
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_request"})
		return
	}

	res, err := h.svc.Recognize(c.Request.Context(), image)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, recognizeResponse(res))
}

func (h *FaceHandler) EnrollFromCamera(c *gin.Context) {
	var req dto.CaptureEnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_request"})
		return
	}
	mode, err := parseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_request"})
		return
	}

	res, err := h.svc.EnrollFromCamera(c.Request.Context(), req.Name, req.Label, mode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, enrollResponse(res))
}

func (h *FaceHandler) RecognizeFromCamera(c *gin.Context) {
	res, err := h.svc.RecognizeFromCamera(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, recognizeResponse(res))
}

func (h *FaceHandler) List(c *gin.Context) {
	ids := h.svc.ListIdentities()
	resp := make([]dto.IdentityResponse, 0, len(ids))
	for _, id := range ids {
		r := dto.IdentityResponse{
			Name:             id.Name,
			Variations:       id.Variations,
			TotalVariations:  id.TotalVariations,
			RecognitionCount: id.RecognitionCount,
			AddedAt:          id.AddedAt.UTC().Format(time.RFC3339),
		}
		if id.LastRecognized != nil {
			s := id.LastRecognized.UTC().Format(time.RFC3339)
			r.LastRecognized = &s
		}
		resp = append(resp, r)
	}
	c.JSON(http.StatusOK, dto.IdentityListResponse{Faces: resp, Total: len(resp)})
}

func (h *FaceHandler) Variations(c *gin.Context) {
	name := c.Param("name")
	vars, err := h.svc.Variations(name)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]dto.VariationResponse, 0, len(vars))
	for _, v := range vars {
		resp = append(resp, dto.VariationResponse{
			Label:    v.Label,
			ImageURL: v.ImageURL,
			AddedAt:  v.AddedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, dto.VariationListResponse{Name: name, Variations: resp, Total: len(resp)})
}

func (h *FaceHandler) Delete(c *gin.Context) {
	name := c.Param("name")
	ok, err := h.svc.DeleteIdentity(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "face not found: " + name, "code": "not_found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "face deleted: " + name})
}

func (h *FaceHandler) DeleteVariation(c *gin.Context) {
	name, label := c.Param("name"), c.Param("label")
	ok, err := h.svc.DeleteVariation(c.Request.Context(), name, label)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "variation not found: " + name + "/" + label, "code": "not_found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "variation deleted: " + name + "/" + label})
}

// Export returns the metadata record of the whole store.
func (h *FaceHandler) Export(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Metadata())
}

// readImage binds the request into req and returns the image bytes,
// either from the multipart "image" file or from the JSON image field.
func readImage(c *gin.Context, req any, jsonImage func() string) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxImageBytes)

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.ShouldBind(req); err != nil {
			return nil, err
		}
		file, _, err := c.Request.FormFile("image")
		if err != nil {
			return nil, errors.New("image file required")
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, errors.New("read image failed")
		}
		if len(data) == 0 {
			return nil, errors.New("image is required")
		}
		return data, nil
	}

	if err := c.ShouldBindJSON(req); err != nil {
		return nil, err
	}
	img := jsonImage()
	if img == "" {
		return nil, errors.New("image is required")
	}
	return []byte(img), nil
}

func parseMode(s string) (identity.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "append":
		return identity.ModeAppend, nil
	case "create":
		return identity.ModeCreate, nil
	default:
		return 0, errors.New("mode must be append or create")
	}
}

func enrollResponse(res service.EnrollmentResult) dto.EnrollResponse {
	msg := "face variation added"
	if res.Created {
		msg = "face enrolled"
	}
	return dto.EnrollResponse{
		Success: res.Success,
		Message: msg,
		Result: dto.EnrollmentResult{
			Name:            res.Name,
			VariationLabel:  res.VariationLabel,
			TotalVariations: res.TotalVariations,
			Created:         res.Created,
			ImageURL:        res.ImageURL,
		},
	}
}

func recognizeResponse(res service.MatchResult) dto.RecognizeResponse {
	r := dto.MatchResult{
		Recognized:      res.Recognized,
		Name:            res.Name,
		Label:           res.Label,
		Confidence:      res.Confidence,
		Distance:        res.Distance,
		Threshold:       res.Threshold,
		Model:           res.Model,
		Metric:          string(res.Metric),
		DoorCommandSent: res.DoorCommandSent,
		EventID:         res.EventID.String(),
		ImageURL:        res.ImageURL,
	}
	for _, cand := range res.Candidates {
		r.TopMatches = append(r.TopMatches, dto.CandidateResponse{
			Name:     cand.Name,
			Label:    cand.Label,
			Distance: cand.Distance,
		})
	}
	return dto.RecognizeResponse{Success: true, Message: "face recognition completed", Result: r}
}
