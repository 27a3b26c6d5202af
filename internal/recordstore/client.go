// Package recordstore is the client for the REST record store that holds
// agreement records and identity wallet links.
package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alfredjeanlab/leasebridge/internal/model"
)

// Client talks to the record store over HTTP/JSON. Every response carries
// the {success, data|message} envelope.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the given base URL (e.g.
// "https://api.example.com/v1"). When token is non-empty it is sent as a
// bearer token on every request.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithHTTPClient replaces the underlying http.Client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Write carries the concurrency and idempotency headers of a logical write.
// Reusing the same Write across retries lets the store deduplicate them.
type Write struct {
	// Version is sent as If-Match when non-zero.
	Version int64
	// IdempotencyKey is generated when empty.
	IdempotencyKey string
}

// NewWrite returns a Write for a record at version with a fresh
// idempotency key.
func NewWrite(version int64) Write {
	return Write{Version: version, IdempotencyKey: uuid.NewString()}
}

// --- Agreements ---

// Get fetches an agreement.
func (c *Client) Get(ctx context.Context, id string) (*model.Agreement, error) {
	var a model.Agreement
	if err := c.do(ctx, "recordstore.Get", http.MethodGet, agreementPath(id, ""), nil, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Sign stores the caller's signature. The store moves the record to signed
// once both signatures are present.
func (c *Client) Sign(ctx context.Context, id string, w Write, signature string) (*model.Agreement, error) {
	body := map[string]string{"signature": signature}
	return c.agreementWrite(ctx, "recordstore.Sign", http.MethodPatch, id, "sign", w, body)
}

// Activate records the deployed contract and moves the record to active.
func (c *Client) Activate(ctx context.Context, id string, w Write, contractAddress, txHash string) (*model.Agreement, error) {
	body := map[string]string{"contractAddress": contractAddress, "transactionHash": txHash}
	return c.agreementWrite(ctx, "recordstore.Activate", http.MethodPatch, id, "activate", w, body)
}

// NotifyDeposit records the deposit transaction. It does not change status.
func (c *Client) NotifyDeposit(ctx context.Context, id string, w Write, txHash string) (*model.Agreement, error) {
	body := map[string]string{"transactionHash": txHash}
	return c.agreementWrite(ctx, "recordstore.NotifyDeposit", http.MethodPatch, id, "deposit", w, body)
}

// Complete moves the record to completed.
func (c *Client) Complete(ctx context.Context, id string, w Write, txHash string) (*model.Agreement, error) {
	body := map[string]string{}
	if txHash != "" {
		body["transactionHash"] = txHash
	}
	return c.agreementWrite(ctx, "recordstore.Complete", http.MethodPost, id, "complete", w, body)
}

// Cancel moves the record to cancelled.
func (c *Client) Cancel(ctx context.Context, id string, w Write, reason, txHash string) (*model.Agreement, error) {
	body := map[string]string{"reason": reason}
	if txHash != "" {
		body["transactionHash"] = txHash
	}
	return c.agreementWrite(ctx, "recordstore.Cancel", http.MethodPost, id, "cancel", w, body)
}

// Dispute opens a dispute against the agreement.
func (c *Client) Dispute(ctx context.Context, id string, w Write, reason, description string) (*model.Dispute, error) {
	body := map[string]string{"reason": reason, "description": description}
	var d model.Dispute
	if err := c.do(ctx, "recordstore.Dispute", http.MethodPost, agreementPath(id, "dispute"), &w, body, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) agreementWrite(ctx context.Context, op, method, id, verb string, w Write, body any) (*model.Agreement, error) {
	var a model.Agreement
	if err := c.do(ctx, op, method, agreementPath(id, verb), &w, body, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// --- Identity ---

// LinkWallet upserts the wallet address on the identity record.
func (c *Client) LinkWallet(ctx context.Context, userID string, address common.Address) error {
	body := map[string]string{"address": address.Hex()}
	w := Write{IdempotencyKey: uuid.NewSHA1(uuid.NameSpaceURL, []byte(userID+"|"+address.Hex())).String()}
	return c.do(ctx, "recordstore.LinkWallet", http.MethodPut, "/users/"+url.PathEscape(userID)+"/wallet", &w, body, nil)
}

// UnlinkWallet removes the wallet address from the identity record.
func (c *Client) UnlinkWallet(ctx context.Context, userID string) error {
	return c.do(ctx, "recordstore.UnlinkWallet", http.MethodDelete, "/users/"+url.PathEscape(userID)+"/wallet", &Write{}, nil, nil)
}

func agreementPath(id, verb string) string {
	p := "/agreements/" + url.PathEscape(id)
	if verb != "" {
		p += "/" + verb
	}
	return p
}

// --- internal helpers ---

// APIError is a failed record store response: HTTP status >= 400 or an
// envelope with success=false.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Conflict reports whether the store rejected the write because the record
// changed underneath it.
func (e *APIError) Conflict() bool {
	return e.StatusCode == http.StatusConflict || e.StatusCode == http.StatusPreconditionFailed
}

// NotFound reports a 404 response.
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err is a version conflict from the store.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Conflict()
}

// IsNotFound reports whether err is a 404 from the store.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.NotFound()
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// do performs a request and decodes the envelope's data into result. Every
// failure, transport included, is a RecordStoreError. A nil w means a read.
func (c *Client) do(ctx context.Context, op, method, path string, w *Write, body, result any) error {
	if err := c.doJSON(ctx, method, path, w, body, result); err != nil {
		return model.E(model.KindRecordStoreError, op, err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, w *Write, body, result any) error {
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
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if w != nil {
		key := w.IdempotencyKey
		if key == "" {
			key = uuid.NewString()
		}
		req.Header.Set("Idempotency-Key", key)
		if w.Version > 0 {
			req.Header.Set("If-Match", strconv.Quote(strconv.FormatInt(w.Version, 10)))
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(respBody, &env)

	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(respBody))
		if decodeErr == nil && env.Message != "" {
			msg = env.Message
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return fmt.Errorf("decoding response: %w", decodeErr)
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = "request unsuccessful"
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if result != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return fmt.Errorf("decoding response data: %w", err)
		}
	}
	return nil
}
