package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ClearlogHQ/clearlog/pkg/types"
)

// Client talks to a registryd instance over its HTTP API.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewClient creates a client for the registry at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// SetAuthToken attaches a bearer token to subsequent requests.
func (c *Client) SetAuthToken(token string) {
	c.authToken = token
}

// APIError is a non-2xx response decoded into the wire error body.
type APIError struct {
	StatusCode int
	Body       types.ErrorResponse
}

func (e *APIError) Error() string {
	return fmt.Sprintf("registry error %d (%s): %s", e.StatusCode, e.Body.Code, e.Body.Detail)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr.Body); err != nil {
			apiErr.Body = types.ErrorResponse{Code: "transient", Message: resp.Status}
		}
		return apiErr
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}

	return nil
}

// SubmitPackageRecord submits a signed record to a package log.
func (c *Client) SubmitPackageRecord(ctx context.Context, packageID string, req *types.SubmitRecordRequest) (*types.SubmitRecordResponse, error) {
	var resp types.SubmitRecordResponse
	path := "/v1/package/" + url.PathEscape(packageID) + "/record"
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitOperatorRecord submits a signed record to the operator log.
func (c *Client) SubmitOperatorRecord(ctx context.Context, req *types.SubmitRecordRequest) (*types.SubmitRecordResponse, error) {
	var resp types.SubmitRecordResponse
	if err := c.do(ctx, http.MethodPost, "/v1/operator/record", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchPackageRecords fetches records of a package log.
func (c *Client) FetchPackageRecords(ctx context.Context, packageID, since string, maxRegistryLength uint64, limit int) (*types.FetchRecordsResponse, error) {
	query := url.Values{}
	query.Set("max_registry_length", strconv.FormatUint(maxRegistryLength, 10))
	if since != "" {
		query.Set("since", since)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp types.FetchRecordsResponse
	path := "/v1/package/" + url.PathEscape(packageID) + "/records?" + query.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchLeaves fetches registry leaves in registry order.
func (c *Client) FetchLeaves(ctx context.Context, start uint64, limit int) (*types.FetchLeavesResponse, error) {
	query := url.Values{}
	query.Set("start", strconv.FormatUint(start, 10))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp types.FetchLeavesResponse
	if err := c.do(ctx, http.MethodGet, "/v1/registry/leaves?"+query.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RecordStatus fetches the status of a submitted record.
func (c *Client) RecordStatus(ctx context.Context, packageID, recordID string) (*types.RecordStatusResponse, error) {
	query := url.Values{}
	query.Set("record_id", recordID)
	if packageID != "" {
		query.Set("package_id", packageID)
	}

	var resp types.RecordStatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/registry/record-status?"+query.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LatestCheckpoint fetches the latest signed checkpoint.
func (c *Client) LatestCheckpoint(ctx context.Context) (*types.CheckpointWire, error) {
	var resp types.CheckpointWire
	if err := c.do(ctx, http.MethodGet, "/v1/registry/checkpoint", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProveInclusion requests inclusion proofs against a checkpoint.
func (c *Client) ProveInclusion(ctx context.Context, req *types.ProveInclusionRequest) (*types.ProveInclusionResponse, error) {
	var resp types.ProveInclusionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/registry/prove/inclusion", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProveConsistency requests a consistency proof between checkpoints.
func (c *Client) ProveConsistency(ctx context.Context, req *types.ProveConsistencyRequest) (*types.ProveConsistencyResponse, error) {
	var resp types.ProveConsistencyResponse
	if err := c.do(ctx, http.MethodPost, "/v1/registry/prove/consistency", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadContent uploads release content under its digest.
func (c *Client) UploadContent(ctx context.Context, digest string, data []byte) (*types.UploadContentResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/content/"+url.PathEscape(digest), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr.Body); err != nil {
			apiErr.Body = types.ErrorResponse{Code: "transient", Message: resp.Status}
		}
		return nil, apiErr
	}

	var out types.UploadContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
