package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signmatch/internal/model"
	"github.com/sells-group/signmatch/internal/resilience"
)

const defaultServiceTimeout = 60 * time.Second

// ServiceClient calls the OCR microservice over HTTP.
type ServiceClient struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewServiceClient creates a ServiceClient. A zero timeout uses 60s.
func NewServiceClient(endpoint, apiKey string, timeout time.Duration) *ServiceClient {
	if timeout <= 0 {
		timeout = defaultServiceTimeout
	}
	return &ServiceClient{
		apiKey:   apiKey,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type serviceRequest struct {
	Filename string              `json:"filename"`
	Content  []byte              `json:"content"` // base64 on the wire
	Crop     *model.CropGeometry `json:"crop,omitempty"`
}

type serviceResponse struct {
	CandidateNumber *string `json:"candidate_number"`
	Confidence      score   `json:"confidence"`
	RawText         string  `json:"raw_text"`
	SnippetImageURL *string `json:"snippet_image_url"`
}

// Extract posts the document to the OCR service and decodes its reading.
func (s *ServiceClient) Extract(ctx context.Context, in Input) (model.Extraction, error) {
	reqBody := serviceRequest{Filename: in.Filename, Content: in.Content}
	if !in.Crop.IsZero() {
		crop := in.Crop
		reqBody.Crop = &crop
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return model.Extraction{}, eris.Wrap(err, "ocr: marshal service request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return model.Extraction{}, eris.Wrap(err, "ocr: create service request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return model.Extraction{}, eris.Wrap(err, "ocr: service call")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Extraction{}, eris.Wrap(err, "ocr: read service response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("ocr: service returned %d: %s", resp.StatusCode, truncate(string(respBody), 200))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return model.Extraction{}, resilience.NewTransientError(err, resp.StatusCode)
		}
		return model.Extraction{}, err
	}

	var out serviceResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return model.Extraction{}, eris.Wrap(err, "ocr: unmarshal service response")
	}

	return model.Extraction{
		CandidateNumber: trimmed(out.CandidateNumber),
		Confidence:      float64(out.Confidence),
		RawText:         out.RawText,
		SnippetImageURL: trimmed(out.SnippetImageURL),
	}, nil
}

// score decodes a confidence leniently. Numbers and numeric strings are
// taken as-is, "93%" becomes 0.93, and null or garbage becomes NaN so the
// decision engine files it under the lowest tier.
type score float64

func (s *score) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		*s = score(math.NaN())
		return nil
	}
	raw = strings.TrimSpace(strings.Trim(raw, `"`))

	div := 1.0
	if strings.HasSuffix(raw, "%") {
		raw = strings.TrimSpace(strings.TrimSuffix(raw, "%"))
		div = 100
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*s = score(math.NaN())
		return nil
	}
	*s = score(f / div)
	return nil
}

// trimmed returns nil for nil or blank strings.
func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
