package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/leasebridge/internal/lifecycle"
	"github.com/alfredjeanlab/leasebridge/internal/model"
)

// HTTPClient implements LeaseClient using the leasebridge HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ LeaseClient = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Agreements ---

func (c *HTTPClient) Show(ctx context.Context, agreementID string) (*lifecycle.Report, error) {
	var rep lifecycle.Report
	if err := c.doJSON(ctx, http.MethodGet, "/v1/agreements/"+url.PathEscape(agreementID), nil, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

func (c *HTTPClient) Perform(ctx context.Context, req *ActionRequest) (*lifecycle.Outcome, error) {
	path := "/v1/agreements/" + url.PathEscape(req.AgreementID) + "/actions/" + url.PathEscape(string(req.Action))
	var out lifecycle.Outcome
	if err := c.doJSON(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Next(ctx context.Context, agreementID, identityID string) (*lifecycle.Recommendation, error) {
	path := "/v1/agreements/" + url.PathEscape(agreementID) + "/next"
	if identityID != "" {
		path += "?identity=" + url.QueryEscape(identityID)
	}
	var rec lifecycle.Recommendation
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *HTTPClient) Reconcile(ctx context.Context, agreementID string) (*lifecycle.Report, error) {
	var rep lifecycle.Report
	if err := c.doJSON(ctx, http.MethodPost, "/v1/agreements/"+url.PathEscape(agreementID)+"/reconcile", nil, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

func (c *HTTPClient) Resolve(ctx context.Context, agreementID string, res lifecycle.Resolution) (*lifecycle.Report, error) {
	body := map[string]lifecycle.Resolution{"resolution": res}
	var rep lifecycle.Report
	if err := c.doJSON(ctx, http.MethodPost, "/v1/agreements/"+url.PathEscape(agreementID)+"/resolve", body, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// --- Conflicts and journal ---

func (c *HTTPClient) ListConflicts(ctx context.Context) ([]*lifecycle.Conflict, error) {
	var resp struct {
		Conflicts []*lifecycle.Conflict `json:"conflicts"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/conflicts", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conflicts, nil
}

func (c *HTTPClient) ListJournal(ctx context.Context, req *JournalRequest) ([]*model.JournalEntry, error) {
	q := url.Values{}
	if req.AgreementID != "" {
		q.Set("agreement", req.AgreementID)
	}
	if len(req.States) > 0 {
		q.Set("state", strings.Join(req.States, ","))
	}
	if !req.Since.IsZero() {
		q.Set("since", req.Since.UTC().Format(time.RFC3339))
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}

	path := "/v1/journal"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Entries []*model.JournalEntry `json:"entries"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// --- Wallet ---

func (c *HTTPClient) Wallet(ctx context.Context) (*Wallet, error) {
	var w Wallet
	if err := c.doJSON(ctx, http.MethodGet, "/v1/wallet", nil, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (c *HTTPClient) ConnectWallet(ctx context.Context, identityID string) (*Wallet, error) {
	body := map[string]string{}
	if identityID != "" {
		body["identityId"] = identityID
	}
	var w Wallet
	if err := c.doJSON(ctx, http.MethodPost, "/v1/wallet/connect", body, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (c *HTTPClient) DisconnectWallet(ctx context.Context) (*Wallet, error) {
	var w Wallet
	if err := c.doJSON(ctx, http.MethodPost, "/v1/wallet/disconnect", nil, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (c *HTTPClient) Balance(ctx context.Context, address string) (*Balance, error) {
	body := map[string]string{}
	if address != "" {
		body["address"] = address
	}
	var b Balance
	if err := c.doJSON(ctx, http.MethodPost, "/v1/wallet/balance", body, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// --- Events ---

// StreamEvents reads the server's event stream and calls fn for every
// event until ctx is done, the stream ends or fn returns an error.
func (c *HTTPClient) StreamEvents(ctx context.Context, req *StreamRequest, fn func(Event) error) error {
	q := url.Values{}
	if len(req.Topics) > 0 {
		q.Set("topics", strings.Join(req.Topics, ","))
	}
	if req.AgreementID != "" {
		q.Set("agreement", req.AgreementID)
	}
	path := "/v1/events/stream"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	if req.LastEventID != "" {
		httpReq.Header.Set("Last-Event-ID", req.LastEventID)
	}
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, body)
	}

	err = readSSE(resp.Body, fn)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readSSE parses "id:", "event:" and "data:" fields; a blank line ends an
// event and comment lines are skipped.
func readSSE(r io.Reader, fn func(Event) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var evt Event
	var data bytes.Buffer
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if evt.Topic != "" || data.Len() > 0 {
				evt.Data = bytes.Clone(data.Bytes())
				if err := fn(evt); err != nil {
					return err
				}
			}
			evt = Event{}
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id:"):
			evt.ID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "event:"):
			evt.Topic = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return sc.Err()
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// --- internal helpers ---

func (c *HTTPClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func decodeAPIError(status int, body []byte) error {
	var errResp struct {
		Error string          `json:"error"`
		Kind  model.ErrorKind `json:"kind"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return &APIError{StatusCode: status, Message: errResp.Error, Kind: errResp.Kind}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	// 204 No Content: success with no body.
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
