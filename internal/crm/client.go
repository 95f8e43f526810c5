package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/crmsync/internal/store"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	DefaultContactsPath = "/contacts/sync"
	DefaultCallsPath    = "/calls/sync"
	DefaultTimeout      = 30 * time.Second

	maxErrorBody = 512
)

// Options configures the CRM endpoint and its credentials. Either APIKey or
// the client-credentials triple must be set.
type Options struct {
	BaseURL      string
	ContactsPath string
	CallsPath    string
	Timeout      time.Duration

	// APIKey is sent as a bearer token, or raw in APIKeyHeader when set.
	APIKey       string
	APIKeyHeader string

	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string

	UserAgent string
}

// Client posts sync batches to the CRM.
type Client struct {
	http         *http.Client
	contactsURL  string
	callsURL     string
	apiKeyHeader string
	apiKey       string
	userAgent    string
	logger       *zap.Logger
}

// New builds a client. base is the transport underneath authentication;
// nil means http.DefaultTransport.
func New(opts Options, base http.RoundTripper, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BaseURL == "" {
		return nil, errors.New("crm: base URL is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("crm: parse base URL: %w", err)
	}
	if opts.ContactsPath == "" {
		opts.ContactsPath = DefaultContactsPath
	}
	if opts.CallsPath == "" {
		opts.CallsPath = DefaultCallsPath
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if base == nil {
		base = http.DefaultTransport
	}

	c := &Client{
		contactsURL: joinURL(opts.BaseURL, opts.ContactsPath),
		callsURL:    joinURL(opts.BaseURL, opts.CallsPath),
		userAgent:   opts.UserAgent,
		logger:      logger,
	}

	// The oauth2 transport reads its base client from the context.
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Transport: base, Timeout: opts.Timeout})
	switch {
	case opts.ClientID != "" && opts.TokenURL != "":
		cc := &clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     opts.TokenURL,
			Scopes:       opts.Scopes,
		}
		c.http = cc.Client(ctx)
	case opts.APIKey != "" && opts.APIKeyHeader != "":
		c.http = &http.Client{Transport: base}
		c.apiKeyHeader = opts.APIKeyHeader
		c.apiKey = opts.APIKey
	case opts.APIKey != "":
		c.http = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: opts.APIKey,
			TokenType:   "Bearer",
		}))
	default:
		return nil, errors.New("crm: an API key or client credentials are required")
	}
	c.http.Timeout = opts.Timeout
	return c, nil
}

// SendContacts posts a contacts delta as one batch.
func (c *Client) SendContacts(ctx context.Context, changes []store.ContactChange) error {
	return c.post(ctx, store.StreamContacts, c.contactsURL, NewContactsPayload(changes))
}

// SendCalls posts a call-log delta as one batch.
func (c *Client) SendCalls(ctx context.Context, calls []store.CallLog) error {
	return c.post(ctx, store.StreamCalls, c.callsURL, NewCallsPayload(calls))
}

func (c *Client) post(ctx context.Context, stream store.Stream, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &SerializationError{Stream: string(stream), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &SerializationError{Stream: string(stream), Err: err}
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.apiKeyHeader != "" {
		req.Header.Set(c.apiKeyHeader, c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Stream: string(stream), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("crm response",
		zap.String("stream", string(stream)),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &TransportError{
			Stream:     string(stream),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
