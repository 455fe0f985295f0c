// Package helpdesk is the HTTP client for the helpdesk ticket API and the
// object storage it presigns uploads for.
package helpdesk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

// APIError is a non-2xx answer from the ticket API or the storage backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("helpdesk: status %d", e.StatusCode)
	}
	return fmt.Sprintf("helpdesk: status %d: %s", e.StatusCode, e.Message)
}

// Reason returns the backend's own message, or the status text.
func (e *APIError) Reason() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsAPIError reports whether err is or wraps an *APIError.
func IsAPIError(err error) bool {
	var ae *APIError
	return errors.As(err, &ae)
}

// Client talks to the helpdesk REST API.
type Client struct {
	baseURL     string
	http        *http.Client
	storage     *http.Client
	credentials Credentials
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithStorageClient sets the client used for presigned uploads.
func WithStorageClient(c *http.Client) Option {
	return func(cl *Client) { cl.storage = c }
}

// WithCredentials sets how API requests are authenticated.
func WithCredentials(c Credentials) Option {
	return func(cl *Client) { cl.credentials = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// NewClient creates a client for the API rooted at baseURL
// (e.g. http://localhost:8000/api).
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: 30 * time.Second},
		credentials: None{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.storage == nil {
		c.storage = c.http
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// ListAdmins fetches the technicians available for assignment.
func (c *Client) ListAdmins(ctx context.Context) ([]protocol.Admin, error) {
	var admins []protocol.Admin
	if err := c.do(ctx, http.MethodGet, "/admins/", nil, &admins); err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return admins, nil
}

// CreateTicket files a new ticket.
func (c *Client) CreateTicket(ctx context.Context, req protocol.CreateTicketRequest) (protocol.TicketReceipt, error) {
	var receipt protocol.TicketReceipt
	if err := c.do(ctx, http.MethodPost, "/tickets/", req, &receipt); err != nil {
		return protocol.TicketReceipt{}, fmt.Errorf("create ticket: %w", err)
	}
	return receipt, nil
}

// Presign asks for an upload URL for one attachment of ticketID.
func (c *Client) Presign(ctx context.Context, ticketID string, req protocol.PresignRequest) (protocol.PresignResponse, error) {
	var resp protocol.PresignResponse
	path := "/tickets/" + url.PathEscape(ticketID) + "/generate-presigned-url/"
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return protocol.PresignResponse{}, fmt.Errorf("presign: %w", err)
	}
	return resp, nil
}

// ConfirmUpload registers a stored object against ticketID.
func (c *Client) ConfirmUpload(ctx context.Context, ticketID string, req protocol.ConfirmUploadRequest) (protocol.ConfirmUploadResponse, error) {
	var resp protocol.ConfirmUploadResponse
	path := "/tickets/" + url.PathEscape(ticketID) + "/confirm-upload/"
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return protocol.ConfirmUploadResponse{}, fmt.Errorf("confirm upload: %w", err)
	}
	return resp, nil
}

// LogSolved records a problem solved through self-service.
func (c *Client) LogSolved(ctx context.Context, req protocol.SolvedRequest) error {
	if err := c.do(ctx, http.MethodPost, "/tickets/log-solved/", req, nil); err != nil {
		return fmt.Errorf("log solved: %w", err)
	}
	return nil
}

// Put uploads body to a presigned storage URL. The URL carries its own
// signature, so no API credentials are attached.
func (c *Client) Put(ctx context.Context, uploadURL, contentType string, size int64, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if size >= 0 {
		req.ContentLength = size
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-amz-acl", "private")

	resp, err := c.storage.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Ping checks that the API answers at all. Any HTTP response counts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	resp.Body.Close()
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.credentials.Apply(req); err != nil {
		return fmt.Errorf("credentials: %w", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("helpdesk request", "method", method, "path", path,
		"status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// errorMessage pulls the "error" or "detail" field out of an error body.
func errorMessage(body []byte) string {
	var e struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Detail != "" {
			return e.Detail
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
