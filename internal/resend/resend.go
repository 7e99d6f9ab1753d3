// Package resend talks to the Resend email API: the official SDK for
// sending broadcasts and batches, plain REST for audience and contact
// listings.
package resend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	resendsdk "github.com/resend/resend-go/v2"

	"letterdesk/internal/config"
	"letterdesk/internal/core"
	"letterdesk/internal/logger"
)

// DefaultBaseURL is the public Resend API endpoint.
const DefaultBaseURL = "https://api.resend.com/"

// UnsubscribeMergeTag is expanded by Resend into a per-contact
// unsubscribe link when a broadcast is sent.
const UnsubscribeMergeTag = "{{{RESEND_UNSUBSCRIBE_URL}}}"

// maxPages bounds pagination in case the API keeps returning cursors.
const maxPages = 1000

// ErrNotConfigured is returned when no API key is available.
var ErrNotConfigured = errors.New("Resend is not configured: set RESEND_API_KEY")

// APIError is a non-2xx response from Resend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("resend API error (status %d): %s", e.Status, e.Message)
}

// Email is a single message in a batch send.
type Email struct {
	To      string
	Subject string
	HTML    string
	Text    string
	Headers map[string]string
}

// Broadcast is a campaign sent to a whole provider audience.
type Broadcast struct {
	AudienceID string
	Name       string
	Subject    string
	HTML       string
	Text       string
}

// Client is a Resend API client.
type Client struct {
	apiKey     string
	baseURL    *url.URL
	from       string
	replyTo    string
	httpClient *http.Client
	sdk        *resendsdk.Client
}

// NewClient creates a client from configuration.
func NewClient(cfg config.Resend) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	raw := cfg.BaseURL
	if raw == "" {
		raw = DefaultBaseURL
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid resend base url: %w", err)
	}

	httpClient := &http.Client{Timeout: config.Duration(cfg.Timeout, 30*time.Second)}
	sdk := resendsdk.NewCustomClient(httpClient, cfg.APIKey)
	sdk.BaseURL = base

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    base,
		from:       cfg.From(),
		replyTo:    cfg.ReplyTo,
		httpClient: httpClient,
		sdk:        sdk,
	}, nil
}

// SendBatch delivers up to 100 individual emails in one request.
func (c *Client) SendBatch(ctx context.Context, emails []Email) error {
	if len(emails) == 0 {
		return nil
	}

	reqs := make([]*resendsdk.SendEmailRequest, 0, len(emails))
	for _, e := range emails {
		reqs = append(reqs, &resendsdk.SendEmailRequest{
			From:    c.from,
			To:      []string{e.To},
			Subject: e.Subject,
			Html:    e.HTML,
			Text:    e.Text,
			ReplyTo: c.replyTo,
			Headers: e.Headers,
		})
	}

	if _, err := c.sdk.Batch.SendWithContext(ctx, reqs); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// SendBroadcast creates a broadcast for an audience and sends it
// immediately, returning the broadcast id.
func (c *Client) SendBroadcast(ctx context.Context, b Broadcast) (string, error) {
	created, err := c.sdk.Broadcasts.CreateWithContext(ctx, &resendsdk.CreateBroadcastRequest{
		AudienceId: b.AudienceID,
		From:       c.from,
		Subject:    b.Subject,
		Html:       b.HTML,
		Text:       b.Text,
		Name:       b.Name,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create broadcast: %w", err)
	}

	if _, err := c.sdk.Broadcasts.SendWithContext(ctx, &resendsdk.SendBroadcastRequest{
		BroadcastId: created.Id,
	}); err != nil {
		return created.Id, fmt.Errorf("failed to send broadcast %s: %w", created.Id, err)
	}

	logger.Info("Broadcast sent", "broadcast_id", created.Id, "audience_id", b.AudienceID)
	return created.Id, nil
}

type listPage[T any] struct {
	Data       []T    `json:"data"`
	Next       string `json:"next"`
	Cursor     string `json:"cursor"`
	HasMore    bool   `json:"has_more"`
	Pagination struct {
		Next string `json:"next"`
	} `json:"pagination"`
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
}

// ListAudiences returns every audience on the account.
func (c *Client) ListAudiences(ctx context.Context) ([]core.Audience, error) {
	return listAll(ctx, c, "audiences", func(a core.Audience) string { return a.ID })
}

// ListContacts returns every contact of an audience.
func (c *Client) ListContacts(ctx context.Context, audienceID string) ([]core.Contact, error) {
	path := "audiences/" + url.PathEscape(audienceID) + "/contacts"
	return listAll(ctx, c, path, func(ct core.Contact) string { return ct.ID })
}

// listAll follows whichever pagination hint the response carries: a next
// URL or cursor under next, cursor, pagination.next or links.next, or
// has_more with the last item id.
func listAll[T any](ctx context.Context, c *Client, path string, idOf func(T) string) ([]T, error) {
	first := c.baseURL.ResolveReference(&url.URL{Path: path})
	pageURL := first.String()
	seen := map[string]bool{}

	var all []T
	for page := 0; page < maxPages && pageURL != ""; page++ {
		if seen[pageURL] {
			break
		}
		seen[pageURL] = true

		var resp listPage[T]
		if err := c.getJSON(ctx, pageURL, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Data...)

		pageURL = ""
		if token := firstNonEmpty(resp.Next, resp.Pagination.Next, resp.Links.Next, resp.Cursor); token != "" {
			pageURL = c.nextPageURL(first, token, "cursor")
		} else if resp.HasMore && len(resp.Data) > 0 {
			pageURL = c.nextPageURL(first, idOf(resp.Data[len(resp.Data)-1]), "after")
		}
	}

	return all, nil
}

func (c *Client) nextPageURL(first *url.URL, token, param string) string {
	if strings.HasPrefix(token, "http://") || strings.HasPrefix(token, "https://") {
		return token
	}
	if strings.HasPrefix(token, "/") {
		ref, err := url.Parse(token)
		if err != nil {
			return ""
		}
		return c.baseURL.ResolveReference(ref).String()
	}
	next := *first
	q := next.Query()
	q.Set(param, token)
	next.RawQuery = q.Encode()
	return next.String()
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("resend request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("failed to read resend response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode resend response: %w", err)
	}
	return nil
}

func parseAPIError(status int, body []byte) error {
	var payload struct {
		Message string `json:"message"`
		Name    string `json:"name"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)

	msg := firstNonEmpty(payload.Message, payload.Error, payload.Name, strings.TrimSpace(string(body)), http.StatusText(status))
	return &APIError{Status: status, Message: msg}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
