package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lifebot-chat/internal/auth"
	"lifebot-chat/internal/domain"
)

// ErrUnauthenticated is returned when the credentials are absent or expired,
// or when the backend rejects them.
var ErrUnauthenticated = errors.New("backend: unauthenticated")

type createTicketRequest struct {
	Topic       string `json:"topic"`
	Description string `json:"description,omitempty"`
}

type queryRequest struct {
	Question string `json:"question"`
}

type queryResponse struct {
	Answer string `json:"answer"`
}

// HTTPStatusError captures non-2xx backend responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("backend: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Unwrap exposes ErrUnauthenticated for 401 and 403 responses.
func (e *HTTPStatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrUnauthenticated
	}
	return nil
}

// Client talks to the chatbot backend's REST API on behalf of one user.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets the logger used to report skipped list entries.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTimeout replaces the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 && c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// NewClient creates a Client for the backend at baseURL. Outbound requests are
// traced with otelhttp.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("backend: base URL must not be empty")
	}
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// ListConversations returns the user's interaction records. Records that fail
// to decode are skipped and logged.
func (c *Client) ListConversations(ctx context.Context, creds auth.Credentials) ([]domain.InteractionRecord, error) {
	var raw []json.RawMessage
	if err := c.do(ctx, creds, http.MethodGet, "/conversations", nil, &raw); err != nil {
		return nil, fmt.Errorf("backend: list conversations: %w", err)
	}
	return decodeEach[domain.InteractionRecord](ctx, c.logger, "conversation", raw), nil
}

// ListTickets returns the user's support tickets. Tickets that fail to decode
// are skipped and logged.
func (c *Client) ListTickets(ctx context.Context, creds auth.Credentials) ([]domain.Ticket, error) {
	var raw []json.RawMessage
	if err := c.do(ctx, creds, http.MethodGet, "/tickets", nil, &raw); err != nil {
		return nil, fmt.Errorf("backend: list tickets: %w", err)
	}
	return decodeEach[domain.Ticket](ctx, c.logger, "ticket", raw), nil
}

// decodeEach decodes list entries independently so one malformed entry does
// not hide the rest.
func decodeEach[T any](ctx context.Context, logger *slog.Logger, kind string, raw []json.RawMessage) []T {
	out := make([]T, 0, len(raw))
	for i, item := range raw {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			if logger != nil {
				logger.WarnContext(ctx, "skipping malformed "+kind,
					slog.Int("index", i), slog.Any("err", err))
			}
			continue
		}
		out = append(out, v)
	}
	return out
}

// CreateTicket opens a new ticket.
func (c *Client) CreateTicket(ctx context.Context, creds auth.Credentials, topic, description string) (domain.Ticket, error) {
	var out domain.Ticket
	body := createTicketRequest{Topic: topic, Description: description}
	if err := c.do(ctx, creds, http.MethodPost, "/tickets", body, &out); err != nil {
		return domain.Ticket{}, fmt.Errorf("backend: create ticket: %w", err)
	}
	return out, nil
}

// ResolveTicket marks a ticket resolved.
func (c *Client) ResolveTicket(ctx context.Context, creds auth.Credentials, ticketID int64) (domain.Ticket, error) {
	var out domain.Ticket
	path := "/tickets/" + strconv.FormatInt(ticketID, 10) + "/resolve"
	if err := c.do(ctx, creds, http.MethodPatch, path, nil, &out); err != nil {
		return domain.Ticket{}, fmt.Errorf("backend: resolve ticket %d: %w", ticketID, err)
	}
	return out, nil
}

// Query asks a bot a question and returns its answer.
func (c *Client) Query(ctx context.Context, creds auth.Credentials, botID int64, question string) (string, error) {
	var out queryResponse
	path := "/bots/" + strconv.FormatInt(botID, 10) + "/query"
	if err := c.do(ctx, creds, http.MethodPost, path, queryRequest{Question: question}, &out); err != nil {
		return "", fmt.Errorf("backend: query bot %d: %w", botID, err)
	}
	return out.Answer, nil
}

// ListBots returns the bots available to the user.
func (c *Client) ListBots(ctx context.Context, creds auth.Credentials) ([]domain.Bot, error) {
	var out []domain.Bot
	if err := c.do(ctx, creds, http.MethodGet, "/bots", nil, &out); err != nil {
		return nil, fmt.Errorf("backend: list bots: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, creds auth.Credentials, method, path string, in, out any) error {
	if creds == nil || !creds.Valid() {
		return ErrUnauthenticated
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.Token())

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
