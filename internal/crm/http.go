package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/brightpath-solar/lead-funnel/internal/model"
)

const defaultTimeout = 30 * time.Second

// HTTPClient talks to the CRM's REST API with a bearer API key.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient creates a CRM client for baseURL. A zero timeout falls
// back to 30s.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type leadEnvelope struct {
	ID string `json:"id"`
}

type findResponse struct {
	Leads []leadEnvelope `json:"leads"`
}

// CreateLead creates a lead record and returns its external id.
func (c *HTTPClient) CreateLead(ctx context.Context, fields LeadFields) (string, error) {
	var out leadEnvelope
	if err := c.do(ctx, http.MethodPost, "/v1/leads", fields, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", model.NewUpstreamError("crm", fmt.Errorf("create returned no lead id"))
	}
	return out.ID, nil
}

// UpdateLead updates an existing lead by external id.
func (c *HTTPClient) UpdateLead(ctx context.Context, externalID string, fields LeadFields) error {
	return c.do(ctx, http.MethodPatch, "/v1/leads/"+url.PathEscape(externalID), fields, nil)
}

// FindLeadByEmail returns the external id for email, or "" on no match.
func (c *HTTPClient) FindLeadByEmail(ctx context.Context, email string) (string, error) {
	var out findResponse
	path := "/v1/leads?email=" + url.QueryEscape(model.NormalizeEmail(email))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	if len(out.Leads) == 0 {
		return "", nil
	}
	return out.Leads[0].ID, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return model.NewUpstreamError("crm", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return model.NewUpstreamError("crm", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts land here too; both classes retry on the next sweep.
		return model.NewUpstreamError("crm", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return model.NewUpstreamError("crm", fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, raw))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return model.NewUpstreamError("crm", err)
		}
	}
	return nil
}
