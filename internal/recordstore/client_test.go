package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alfredjeanlab/leasebridge/internal/model"
)

// testHandler captures the incoming request details and returns a canned response.
type testHandler struct {
	mu sync.Mutex

	// captured from the request
	method      string
	path        string
	body        string
	contentType string
	auth        string
	ifMatch     string
	idemKeys    []string

	// canned response
	statusCode   int
	responseBody string
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.method = r.Method
	h.path = r.URL.Path
	h.contentType = r.Header.Get("Content-Type")
	h.auth = r.Header.Get("Authorization")
	h.ifMatch = r.Header.Get("If-Match")
	if k := r.Header.Get("Idempotency-Key"); k != "" {
		h.idemKeys = append(h.idemKeys, k)
	}
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		h.body = string(data)
	}

	w.Header().Set("Content-Type", "application/json")
	if h.statusCode != 0 {
		w.WriteHeader(h.statusCode)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if h.responseBody != "" {
		_, _ = w.Write([]byte(h.responseBody))
	}
}

func newTestClient(t *testing.T, h http.Handler, token string) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", token)
}

const activeAgreement = `{"success":true,"data":{
	"id":"ag-1","ownerId":"u-owner","tenantId":"u-tenant","itemRef":"42",
	"period":{"start":"2026-01-01T00:00:00Z","end":"2026-01-31T00:00:00Z"},
	"totalPrice":"0.5","deposit":"0.1","status":"active",
	"ledgerAddress":"0x00000000000000000000000000000000000000a9",
	"ownerSignature":"sig-o","tenantSignature":"sig-t","version":4,
	"createdAt":"2026-01-01T00:00:00Z"}}`

func TestClient_Get(t *testing.T) {
	h := &testHandler{responseBody: activeAgreement}
	c := newTestClient(t, h, "tok")

	a, err := c.Get(context.Background(), "ag 1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if h.method != http.MethodGet || h.path != "/agreements/ag 1" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if h.auth != "Bearer tok" {
		t.Errorf("Authorization = %q", h.auth)
	}
	if len(h.idemKeys) != 0 {
		t.Errorf("reads must not carry an idempotency key, got %v", h.idemKeys)
	}
	if a.Status != model.StatusActive || a.Version != 4 || !a.IsDeployed() {
		t.Errorf("agreement = %+v", a)
	}
}

func TestClient_Writes(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name     string
		call     func(c *Client, w Write) error
		method   string
		path     string
		wantBody map[string]string
	}{
		{
			name: "Sign",
			call: func(c *Client, w Write) error {
				_, err := c.Sign(ctx, "ag-1", w, "sig-t")
				return err
			},
			method:   http.MethodPatch,
			path:     "/agreements/ag-1/sign",
			wantBody: map[string]string{"signature": "sig-t"},
		},
		{
			name: "Activate",
			call: func(c *Client, w Write) error {
				_, err := c.Activate(ctx, "ag-1", w, "0xabc", "0xdef")
				return err
			},
			method:   http.MethodPatch,
			path:     "/agreements/ag-1/activate",
			wantBody: map[string]string{"contractAddress": "0xabc", "transactionHash": "0xdef"},
		},
		{
			name: "NotifyDeposit",
			call: func(c *Client, w Write) error {
				_, err := c.NotifyDeposit(ctx, "ag-1", w, "0x123")
				return err
			},
			method:   http.MethodPatch,
			path:     "/agreements/ag-1/deposit",
			wantBody: map[string]string{"transactionHash": "0x123"},
		},
		{
			name: "CompleteOffChain",
			call: func(c *Client, w Write) error {
				_, err := c.Complete(ctx, "ag-1", w, "")
				return err
			},
			method:   http.MethodPost,
			path:     "/agreements/ag-1/complete",
			wantBody: map[string]string{},
		},
		{
			name: "Cancel",
			call: func(c *Client, w Write) error {
				_, err := c.Cancel(ctx, "ag-1", w, "item damaged", "0x9")
				return err
			},
			method:   http.MethodPost,
			path:     "/agreements/ag-1/cancel",
			wantBody: map[string]string{"reason": "item damaged", "transactionHash": "0x9"},
		},
		{
			name: "Dispute",
			call: func(c *Client, w Write) error {
				_, err := c.Dispute(ctx, "ag-1", w, "late", "returned two days late")
				return err
			},
			method:   http.MethodPost,
			path:     "/agreements/ag-1/dispute",
			wantBody: map[string]string{"reason": "late", "description": "returned two days late"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := &testHandler{responseBody: `{"success":true,"data":{}}`}
			c := newTestClient(t, h, "")

			w := Write{Version: 4, IdempotencyKey: "key-1"}
			if err := tc.call(c, w); err != nil {
				t.Fatalf("error = %v", err)
			}
			if h.method != tc.method || h.path != tc.path {
				t.Errorf("request = %s %s, want %s %s", h.method, h.path, tc.method, tc.path)
			}
			if h.contentType != "application/json" {
				t.Errorf("Content-Type = %q", h.contentType)
			}
			if h.ifMatch != `"4"` {
				t.Errorf("If-Match = %q, want \"4\"", h.ifMatch)
			}
			if len(h.idemKeys) != 1 || h.idemKeys[0] != "key-1" {
				t.Errorf("Idempotency-Key = %v", h.idemKeys)
			}
			if h.auth != "" {
				t.Errorf("unexpected Authorization %q", h.auth)
			}
			var got map[string]string
			if err := json.Unmarshal([]byte(h.body), &got); err != nil {
				t.Fatalf("body %q: %v", h.body, err)
			}
			if len(got) != len(tc.wantBody) {
				t.Errorf("body = %v, want %v", got, tc.wantBody)
			}
			for k, v := range tc.wantBody {
				if got[k] != v {
					t.Errorf("body[%s] = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestClient_Errors(t *testing.T) {
	for _, tc := range []struct {
		name         string
		status       int
		body         string
		wantMsg      string
		wantConflict bool
		wantNotFound bool
	}{
		{"EnvelopeFailure", http.StatusOK, `{"success":false,"message":"not a party"}`, "not a party", false, false},
		{"Conflict", http.StatusConflict, `{"success":false,"message":"version mismatch"}`, "version mismatch", true, false},
		{"PreconditionFailed", http.StatusPreconditionFailed, ``, "Precondition Failed", true, false},
		{"NotFound", http.StatusNotFound, `{"success":false,"message":"no such agreement"}`, "no such agreement", false, true},
		{"PlainText", http.StatusBadGateway, `upstream down`, "upstream down", false, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := &testHandler{statusCode: tc.status, responseBody: tc.body}
			c := newTestClient(t, h, "")

			_, err := c.Activate(context.Background(), "ag-1", NewWrite(2), "0xabc", "0xdef")
			if !errors.Is(err, model.ErrRecordStore) {
				t.Fatalf("error = %v, want RecordStoreError", err)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error %v does not wrap *APIError", err)
			}
			if apiErr.StatusCode != tc.status || apiErr.Message != tc.wantMsg {
				t.Errorf("APIError = %+v", apiErr)
			}
			if IsConflict(err) != tc.wantConflict {
				t.Errorf("IsConflict() = %v, want %v", IsConflict(err), tc.wantConflict)
			}
			if IsNotFound(err) != tc.wantNotFound {
				t.Errorf("IsNotFound() = %v, want %v", IsNotFound(err), tc.wantNotFound)
			}
		})
	}
}

func TestClient_TransportErrorIsRecordStoreError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, "").Get(context.Background(), "ag-1")
	if !errors.Is(err, model.ErrRecordStore) {
		t.Fatalf("error = %v, want RecordStoreError", err)
	}
	if IsConflict(err) {
		t.Error("transport error reported as conflict")
	}
}

func TestClient_GeneratedIdempotencyKeys(t *testing.T) {
	h := &testHandler{responseBody: `{"success":true}`}
	c := newTestClient(t, h, "")
	ctx := context.Background()

	w := NewWrite(0)
	for i := 0; i < 2; i++ {
		if _, err := c.NotifyDeposit(ctx, "ag-1", w, "0x1"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := c.NotifyDeposit(ctx, "ag-1", Write{}, "0x1"); err != nil {
		t.Fatal(err)
	}
	if len(h.idemKeys) != 3 {
		t.Fatalf("keys = %v", h.idemKeys)
	}
	if h.idemKeys[0] != h.idemKeys[1] {
		t.Error("retries of one write must reuse its key")
	}
	if h.idemKeys[2] == "" || h.idemKeys[2] == h.idemKeys[0] {
		t.Error("a fresh write must get its own key")
	}
	if h.ifMatch != "" {
		t.Errorf("If-Match = %q for unversioned write", h.ifMatch)
	}
}

func TestClient_WalletLink(t *testing.T) {
	h := &testHandler{statusCode: http.StatusNoContent}
	c := newTestClient(t, h, "")
	ctx := context.Background()
	addr := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	if err := c.LinkWallet(ctx, "u-1", addr); err != nil {
		t.Fatalf("LinkWallet() error = %v", err)
	}
	if h.method != http.MethodPut || h.path != "/users/u-1/wallet" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if err := c.LinkWallet(ctx, "u-1", addr); err != nil {
		t.Fatal(err)
	}
	if h.idemKeys[0] != h.idemKeys[1] {
		t.Error("linking the same address twice must use the same key")
	}

	if err := c.UnlinkWallet(ctx, "u-1"); err != nil {
		t.Fatalf("UnlinkWallet() error = %v", err)
	}
	if h.method != http.MethodDelete {
		t.Errorf("method = %s", h.method)
	}
}
