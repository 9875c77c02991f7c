// Package httpclient is a small context-aware HTTP client for calling JSON REST peers.
// Requests can be signed with an ed25519 key so the receiver can authenticate the caller.
package httpclient

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	HeaderSignature          = "X-Aton-Signature"
	HeaderSignatureTimestamp = "X-Aton-Signature-Timestamp"
	HeaderKeyID              = "X-Aton-Key-ID"
)

// Doer is the part of HTTPClient the service packages depend on.
type Doer interface {
	DoRequest(ctx context.Context, opts RequestOptions) ([]byte, error)
}

// HTTPError is a non-2xx answer from the peer.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// ClientOptions configures an HTTPClient.
type ClientOptions struct {
	Timeout               time.Duration
	DisableCertValidation bool
	KeyID                 string
	SigningKey            ed25519.PrivateKey // requests are signed when set
}

type HTTPClient struct {
	opts       ClientOptions
	httpClient *http.Client
}

var _ Doer = (*HTTPClient)(nil)

func NewClient(opts ClientOptions) *HTTPClient {
	httpClient := &http.Client{Timeout: opts.Timeout}
	if opts.DisableCertValidation {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &HTTPClient{opts: opts, httpClient: httpClient}
}

// RequestOptions describes one request. BaseURL must be absolute.
type RequestOptions struct {
	Method      string
	BaseURL     string
	Path        string
	QueryParams map[string]string
	Body        []byte
}

// BuildURL joins the base URL, path and query parameters.
func BuildURL(opts RequestOptions) (*url.URL, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid base url: missing host")
	}
	u.Path = path.Join("/", u.Path, opts.Path)
	q := u.Query()
	for k, v := range opts.QueryParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u, nil
}

// DoRequest performs the request and returns the response body.
func (c *HTTPClient) DoRequest(ctx context.Context, opts RequestOptions) ([]byte, error) {
	u, err := BuildURL(opts)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, u.String(), bytes.NewReader(opts.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if len(c.opts.SigningKey) == ed25519.PrivateKeySize {
		timestamp := time.Now().UTC().Format(time.RFC3339)
		stringToSign := strings.Join([]string{
			opts.Method,
			u.Path,
			u.RawQuery,
			string(opts.Body),
			timestamp,
		}, "\n")
		signature := ed25519.Sign(c.opts.SigningKey, []byte(stringToSign))
		req.Header.Set(HeaderSignature, base64.StdEncoding.EncodeToString(signature))
		req.Header.Set(HeaderSignatureTimestamp, timestamp)
		req.Header.Set(HeaderKeyID, c.opts.KeyID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: msg}
	}
	return body, nil
}
