package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"droneaid/internal/model"
)

// ErrServiceUnavailable is returned when the detection service cannot be reached
// or answers with a non-success status.
var ErrServiceUnavailable = errors.New("detection service unavailable")

// DetectResponse is the body returned by the detection service.
type DetectResponse struct {
	Detections       []model.Detection `json:"detections"`
	ImageWidth       int               `json:"image_width"`
	ImageHeight      int               `json:"image_height"`
	ProcessingTimeMS float64           `json:"processing_time_ms"`
}

// Detector is the detection service as seen by the dispatcher.
type Detector interface {
	Health(ctx context.Context) error
	Detect(ctx context.Context, image []byte, filename string, threshold float64) (*DetectResponse, error)
}

// Client talks to the external object-detection HTTP service.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	HealthPath string
	DetectPath string
}

// NewClient creates a detection service client.
func NewClient(httpClient *http.Client, baseURL, healthPath, detectPath string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		HTTPClient: httpClient,
		BaseURL:    baseURL,
		HealthPath: healthPath,
		DetectPath: detectPath,
	}
}

// Health returns nil when the service reports ready.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+c.HealthPath, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", ErrServiceUnavailable, resp.StatusCode)
	}
	return nil
}

// Detect uploads one image and returns the raw service response.
func (c *Client) Detect(ctx context.Context, image []byte, filename string, threshold float64) (*DetectResponse, error) {
	if filename == "" {
		filename = "frame.jpg"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("writing form file: %w", err)
	}
	if err := mw.WriteField("conf_threshold", strconv.FormatFloat(threshold, 'f', -1, 64)); err != nil {
		return nil, fmt.Errorf("writing threshold: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+c.DetectPath, &body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrServiceUnavailable, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out DetectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding detect response: %w", err)
	}
	return &out, nil
}
