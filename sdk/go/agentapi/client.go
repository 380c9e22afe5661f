package agentapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	xerrors "AgentStudio/internal/errors"
)

// DefaultHTTPTimeout is applied to JSON requests made by clients created
// without a custom http.Client. Object transfers use a separate client without
// a global timeout and are bounded by the caller's context instead.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the agent backend REST API.
type Client struct {
	baseURL      *url.URL
	httpClient   *http.Client
	uploadClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// APIError represents a non-2xx response from the backend or the object store.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	if e.Message == "" {
		return fmt.Sprintf("api error (%d)", e.StatusCode)
	}
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

// Option customises a Client.
type Option func(*Client)

// WithAccessToken sets the bearer token sent with every backend request.
func WithAccessToken(token string) Option {
	return func(c *Client) {
		c.accessToken = strings.TrimSpace(token)
	}
}

// WithUploadClient overrides the client used for PUTs to signed URLs.
func WithUploadClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.uploadClient = httpClient
		}
	}
}

// NewClient instantiates a client for the backend rooted at rawURL. When
// httpClient is nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid base url")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unsupported base url scheme %q", parsed.Scheme))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	c := &Client{
		baseURL:      parsed,
		httpClient:   httpClient,
		uploadClient: &http.Client{Transport: httpClient.Transport},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken overrides the stored access token.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = strings.TrimSpace(token)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	return c.send(ctx, http.MethodPost, endpoint, payload, out)
}

func (c *Client) put(ctx context.Context, endpoint string, payload any, out any) error {
	return c.send(ctx, http.MethodPut, endpoint, payload, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(c.httpClient, req, out)
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := sonic.Marshal(payload)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode request")
		}
		body = bytes.NewReader(encoded)
	}
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(c.httpClient, req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(httpClient *http.Client, req *http.Request, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return xerrors.Transport(err, fmt.Sprintf("%s %s", req.Method, req.URL.Path))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return xerrors.Wrap(xerrors.CodeServer, decodeAPIError(resp), fmt.Sprintf("%s %s", req.Method, req.URL.Path))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return xerrors.Transport(err, "read response")
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return xerrors.Wrap(xerrors.CodeDecode, err, "decode response")
	}
	return nil
}

func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(data) == 0 {
		return apiErr
	}
	if err := sonic.Unmarshal(data, &struct {
		Error *APIError `json:"error"`
	}{Error: apiErr}); err != nil || (apiErr.Code == "" && apiErr.Message == "") {
		// flat payload
		_ = sonic.Unmarshal(data, apiErr)
	}
	if apiErr.Message == "" && apiErr.Code == "" {
		apiErr.Message = string(bytes.TrimSpace(data))
	}
	apiErr.StatusCode = resp.StatusCode
	return apiErr
}
