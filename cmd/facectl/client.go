package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/your-org/facedoor/internal/identity"
	"github.com/your-org/facedoor/pkg/dto"
)

// Client talks to the facedoor HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{baseURL: baseURL, apiKey: apiKey, http: &http.Client{Timeout: 2 * time.Minute}}
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *Client) List(ctx context.Context) (dto.IdentityListResponse, error) {
	var out dto.IdentityListResponse
	err := c.do(ctx, http.MethodGet, "/v1/faces", nil, "", &out)
	return out, err
}

func (c *Client) Delete(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/v1/faces/"+url.PathEscape(name), nil, "", nil)
}

func (c *Client) DeleteVariation(ctx context.Context, name, label string) error {
	path := "/v1/faces/" + url.PathEscape(name) + "/variations/" + url.PathEscape(label)
	return c.do(ctx, http.MethodDelete, path, nil, "", nil)
}

func (c *Client) Export(ctx context.Context) (identity.Metadata, error) {
	var out identity.Metadata
	err := c.do(ctx, http.MethodGet, "/v1/faces/export", nil, "", &out)
	return out, err
}

// Enroll uploads one image as a multipart form.
func (c *Client) Enroll(ctx context.Context, name, label, mode, filename string, image []byte) (dto.EnrollResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := map[string]string{"name": name, "label": label, "mode": mode}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return dto.EnrollResponse{}, err
		}
	}
	fw, err := mw.CreateFormFile("image", filepath.Base(filename))
	if err != nil {
		return dto.EnrollResponse{}, err
	}
	if _, err := fw.Write(image); err != nil {
		return dto.EnrollResponse{}, err
	}
	if err := mw.Close(); err != nil {
		return dto.EnrollResponse{}, err
	}

	var out dto.EnrollResponse
	err = c.do(ctx, http.MethodPost, "/v1/faces", &body, mw.FormDataContentType(), &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.Unmarshal(data, &e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Code: e.Code, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
