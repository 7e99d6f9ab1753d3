// Package airtable reads and writes newsletter articles stored in an
// Airtable base.
package airtable

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

	"letterdesk/internal/config"
)

// DefaultBaseURL is the public Airtable API endpoint.
const DefaultBaseURL = "https://api.airtable.com"

// MaxRecordsPerWrite is Airtable's per-request record limit.
const MaxRecordsPerWrite = 10

// ErrNotConfigured is returned when the API key or base id is missing.
var ErrNotConfigured = errors.New("Airtable is not configured: set AIRTABLE_API_KEY and AIRTABLE_BASE_ID")

// APIError is a non-2xx response from Airtable.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("airtable API error (status %d, %s): %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("airtable API error (status %d): %s", e.Status, e.Message)
}

// Field is a column of an Airtable table.
type Field struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Table is an Airtable table with its schema.
type Table struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// Record is one Airtable row.
type Record struct {
	ID          string         `json:"id,omitempty"`
	CreatedTime string         `json:"createdTime,omitempty"`
	Fields      map[string]any `json:"fields"`
}

// ListQuery narrows a record listing.
type ListQuery struct {
	Filter     string // filterByFormula
	SortField  string
	SortDesc   bool
	PageSize   int
	MaxRecords int
}

// Client is an Airtable REST client bound to one base.
type Client struct {
	apiKey     string
	baseID     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client from configuration.
func NewClient(cfg config.Airtable) (*Client, error) {
	if cfg.APIKey == "" || cfg.BaseID == "" {
		return nil, ErrNotConfigured
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseID:     cfg.BaseID,
		baseURL:    base,
		httpClient: &http.Client{Timeout: config.Duration(cfg.Timeout, 30*time.Second)},
	}, nil
}

// BaseID returns the base the client is bound to.
func (c *Client) BaseID() string {
	return c.baseID
}

// ListTables returns the schema of every table in the base.
func (c *Client) ListTables(ctx context.Context) ([]Table, error) {
	var resp struct {
		Tables []Table `json:"tables"`
	}
	endpoint := fmt.Sprintf("%s/v0/meta/bases/%s/tables", c.baseURL, url.PathEscape(c.baseID))
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tables, nil
}

// TableFields returns the fields of table keyed by field name.
func (c *Client) TableFields(ctx context.Context, table string) (map[string]Field, error) {
	tables, err := c.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tables {
		if t.Name == table || t.ID == table {
			fields := make(map[string]Field, len(t.Fields))
			for _, f := range t.Fields {
				fields[f.Name] = f
			}
			return fields, nil
		}
	}
	return nil, fmt.Errorf("airtable table %q not found in base %s", table, c.baseID)
}

// ListRecords returns every record matching q, following offset pagination.
func (c *Client) ListRecords(ctx context.Context, table string, q ListQuery) ([]Record, error) {
	params := url.Values{}
	if q.Filter != "" {
		params.Set("filterByFormula", q.Filter)
	}
	if q.SortField != "" {
		params.Set("sort[0][field]", q.SortField)
		if q.SortDesc {
			params.Set("sort[0][direction]", "desc")
		}
	}
	if q.PageSize > 0 {
		params.Set("pageSize", strconv.Itoa(q.PageSize))
	}
	if q.MaxRecords > 0 {
		params.Set("maxRecords", strconv.Itoa(q.MaxRecords))
	}

	var all []Record
	for {
		var page struct {
			Records []Record `json:"records"`
			Offset  string   `json:"offset"`
		}
		if err := c.do(ctx, http.MethodGet, c.tableURL(table)+"?"+params.Encode(), nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Records...)

		if page.Offset == "" || (q.MaxRecords > 0 && len(all) >= q.MaxRecords) {
			break
		}
		params.Set("offset", page.Offset)
	}
	return all, nil
}

// CreateRecords inserts records in chunks of MaxRecordsPerWrite with
// typecast enabled, returning the created rows.
func (c *Client) CreateRecords(ctx context.Context, table string, fields []map[string]any) ([]Record, error) {
	var created []Record
	for start := 0; start < len(fields); start += MaxRecordsPerWrite {
		end := min(start+MaxRecordsPerWrite, len(fields))

		body := struct {
			Records  []Record `json:"records"`
			Typecast bool     `json:"typecast"`
		}{Typecast: true}
		for _, f := range fields[start:end] {
			body.Records = append(body.Records, Record{Fields: f})
		}

		var resp struct {
			Records []Record `json:"records"`
		}
		if err := c.do(ctx, http.MethodPost, c.tableURL(table), body, &resp); err != nil {
			return created, fmt.Errorf("failed to create records %d-%d: %w", start, end-1, err)
		}
		created = append(created, resp.Records...)
	}
	return created, nil
}

func (c *Client) tableURL(table string) string {
	return fmt.Sprintf("%s/v0/%s/%s", c.baseURL, url.PathEscape(c.baseID), url.PathEscape(table))
}

func (c *Client) do(ctx context.Context, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode airtable request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("airtable request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("failed to read airtable response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode airtable response: %w", err)
	}
	return nil
}

// parseAPIError handles both error shapes Airtable returns:
// {"error":{"type":..,"message":..}} and {"error":"NOT_FOUND"}.
func parseAPIError(status int, data []byte) error {
	apiErr := &APIError{Status: status, Message: http.StatusText(status)}

	var nested struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &nested); err == nil && (nested.Error.Type != "" || nested.Error.Message != "") {
		apiErr.Type = nested.Error.Type
		if nested.Error.Message != "" {
			apiErr.Message = nested.Error.Message
		}
		return apiErr
	}

	var flat struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &flat); err == nil && flat.Error != "" {
		apiErr.Type = flat.Error
	}
	return apiErr
}
