// Package gallery provides a client for the remote case gallery API
package gallery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/clinicgallery/casesync/ratelimit"
)

const defaultBaseURL = "https://app.galleryserve.com/api/plugin"

// requestTimeout is the fixed per-call HTTP timeout; failed calls are not
// retried, the pipeline counts the case as failed and moves on
const requestTimeout = 30 * time.Second

// Client wraps gallery API interactions
type Client struct {
	baseURL     string
	apiTokens   []string
	propertyIDs []int
	httpClient  *http.Client
	limiter     *ratelimit.RateLimiter
}

// Config holds gallery API configuration
type Config struct {
	APITokens   []string
	PropertyIDs []int
	BaseURL     string
}

// ConfigFromEnv builds a Config from GALLERY_API_TOKEN, GALLERY_PROPERTY_ID
// and GALLERY_BASE_URL. Both token and property ID accept comma-separated
// lists for multi-property installations.
func ConfigFromEnv() *Config {
	cfg := &Config{BaseURL: os.Getenv("GALLERY_BASE_URL")}

	for _, tok := range strings.Split(os.Getenv("GALLERY_API_TOKEN"), ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			cfg.APITokens = append(cfg.APITokens, tok)
		}
	}

	for _, raw := range strings.Split(os.Getenv("GALLERY_PROPERTY_ID"), ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			if id, err := strconv.Atoi(raw); err == nil && id > 0 {
				cfg.PropertyIDs = append(cfg.PropertyIDs, id)
			} else {
				slog.Error("Invalid GALLERY_PROPERTY_ID entry", "value", raw)
			}
		}
	}

	return cfg
}

// NewClient creates a new gallery client
func NewClient(cfg *Config) (*Client, error) {
	if len(cfg.APITokens) == 0 {
		return nil, &ConfigError{Reason: "no API tokens configured"}
	}
	if len(cfg.PropertyIDs) == 0 {
		return nil, &ConfigError{Reason: "no website property IDs configured"}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		apiTokens:   cfg.APITokens,
		propertyIDs: cfg.PropertyIDs,
		httpClient:  &http.Client{Timeout: requestTimeout},
		limiter:     ratelimit.NewRateLimiter(nil),
	}, nil
}

// requestEnvelope is the token/property body every endpoint expects
type requestEnvelope struct {
	APITokens          []string `json:"apiTokens"`
	WebsitePropertyIDs []int    `json:"websitePropertyIds"`
	ProcedureIDs       []int    `json:"procedureIds,omitempty"`

	// Pagination cursor. Deployments disagree on which key they read, so
	// both are sent with the same value.
	Count int `json:"count,omitempty"`
	Page  int `json:"page,omitempty"`
}

func (c *Client) envelope() requestEnvelope {
	return requestEnvelope{
		APITokens:          c.apiTokens,
		WebsitePropertyIDs: c.propertyIDs,
	}
}

// post issues an authenticated POST and returns the raw body.
// Non-200 responses and network failures surface as TransportError.
func (c *Client) post(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := c.baseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		terr := &TransportError{Endpoint: endpoint, Err: err}
		c.limiter.Throttled(terr)
		return nil, terr
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		slog.Warn("Gallery API error", "endpoint", endpoint, "status", resp.StatusCode)
		terr := &TransportError{Endpoint: endpoint, StatusCode: resp.StatusCode}
		// A 429 slows every subsequent request; other statuses pass
		// through Throttled unchanged
		c.limiter.Throttled(terr)
		return nil, terr
	}

	c.limiter.Success()
	return respBody, nil
}

// GetCategoryTree retrieves the category/procedure tree from the sidebar
// endpoint. This is the Stage-1 source: categories with one level of child
// procedures, each carrying external IDs and declared case counts.
func (c *Client) GetCategoryTree(ctx context.Context) ([]CategoryNode, error) {
	const endpoint = "/combine/sidebar"

	body, err := c.post(ctx, endpoint, c.envelope())
	if err != nil {
		return nil, err
	}

	var response struct {
		Success bool           `json:"success"`
		Data    []CategoryNode `json:"data"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, &DecodeError{Endpoint: endpoint, Err: err}
	}
	if !response.Success {
		return nil, &TransportError{Endpoint: endpoint, Err: fmt.Errorf("API reported failure")}
	}

	return response.Data, nil
}

// ListCaseIDs retrieves one page of case IDs for a procedure. Page numbers
// start at 1. HasNext is nil when the deployment omits the pagination
// object; the manifest builder then relies on duplicate/empty page
// detection to terminate.
func (c *Client) ListCaseIDs(ctx context.Context, procedureID, page int) (*CaseListPage, error) {
	const endpoint = "/combine/cases"

	payload := c.envelope()
	payload.ProcedureIDs = []int{procedureID}
	payload.Count = page
	payload.Page = page

	body, err := c.post(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}

	var response listResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, &DecodeError{Endpoint: endpoint, Err: err}
	}
	if !response.Success {
		return nil, &TransportError{Endpoint: endpoint, Err: fmt.Errorf("API reported failure")}
	}

	result := &CaseListPage{}
	for _, stub := range response.Data {
		result.IDs = append(result.IDs, stub.ID.Int())
	}
	if response.Pagination != nil {
		result.HasNext = response.Pagination.HasNext
	}

	return result, nil
}

// GetCaseDetail retrieves the full detail record for one case and
// normalizes it into the canonical shape. Both known response variants are
// supported: the current data.case object and the older data array.
func (c *Client) GetCaseDetail(ctx context.Context, caseID int, procedureIDs []int) (*CanonicalCase, error) {
	endpoint := fmt.Sprintf("/combine/cases/%d", caseID)

	payload := c.envelope()
	payload.ProcedureIDs = procedureIDs

	body, err := c.post(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}

	detail, err := decodeCaseDetail(body)
	if err != nil {
		return nil, &DecodeError{Endpoint: endpoint, Err: err}
	}

	return detail, nil
}

// decodeCaseDetail tries the v2 shape first, then falls back to v1
func decodeCaseDetail(body []byte) (*CanonicalCase, error) {
	var envelope detailEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	if !envelope.Success {
		return nil, fmt.Errorf("API reported failure")
	}
	if len(envelope.Data) == 0 {
		return nil, fmt.Errorf("empty data payload")
	}

	var v2 CaseDetailV2
	if err := json.Unmarshal(envelope.Data, &v2); err == nil && v2.Case.ID.Int() > 0 {
		return v2.Normalize(), nil
	}

	var v1List []CaseDetailV1
	if err := json.Unmarshal(envelope.Data, &v1List); err == nil && len(v1List) > 0 && v1List[0].ID.Int() > 0 {
		return v1List[0].Normalize(), nil
	}

	return nil, fmt.Errorf("unrecognized case detail shape")
}
