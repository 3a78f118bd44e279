// Package ocr wraps the external document-recognition capability. It
// returns best-effort extracted fields; callers treat every failure
// mode as advisory and fall back to manual entry.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

var (
	ErrQuotaExceeded = errors.New("ocr quota exceeded")
	ErrUnavailable   = errors.New("ocr service unavailable")
)

// Fields are the raw key/value pairs the recognizer extracted, e.g.
// "expiry_date" -> "2027-04-01". Values are never trusted blindly;
// they only prefill the form.
type Fields map[string]string

// Result carries extracted fields plus a low-confidence marker. Low
// confidence is surfaced as a warning, never an error.
type Result struct {
	Fields        Fields
	LowConfidence bool
}

// Client is the document-recognition capability.
type Client interface {
	Extract(ctx context.Context, image []byte, documentType, side string) (Result, error)
}

const lowConfidenceThreshold = 0.6

// HTTPClient implements Client against a hosted recognition API.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPClient(endpoint, apiKey string) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type extractRequest struct {
	Image        string `json:"image"`
	DocumentType string `json:"documentType"`
	Side         string `json:"side"`
}

type extractResponse struct {
	Fields     Fields  `json:"fields"`
	Confidence float64 `json:"confidence"`
}

func (c *HTTPClient) Extract(ctx context.Context, image []byte, documentType, side string) (Result, error) {
	body, err := json.Marshal(extractRequest{
		Image:        base64.StdEncoding.EncodeToString(image),
		DocumentType: documentType,
		Side:         side,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusPaymentRequired:
		return Result{}, ErrQuotaExceeded
	case resp.StatusCode != http.StatusOK:
		return Result{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var er extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return Result{
		Fields:        er.Fields,
		LowConfidence: er.Confidence < lowConfidenceThreshold,
	}, nil
}
