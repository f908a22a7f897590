package congressus

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
	"time"

	"congressus-cache/internal/config"
	"congressus-cache/internal/logger"
	"congressus-cache/internal/monitoring"
)

// ErrUnavailable wraps transport failures talking to Congressus.
var ErrUnavailable = errors.New("congressus unavailable")

// StatusError is returned when Congressus answers with an unexpected status.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("congressus %s %s returned status %d", e.Method, e.Path, e.StatusCode)
}

// IsNotFound reports whether err is a 404 from Congressus.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}

// IsRemoteFailure reports whether err came from Congressus rather than from
// local storage.
func IsRemoteFailure(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) || errors.Is(err, ErrUnavailable)
}

// page is one page of a paginated Congressus listing.
type page struct {
	Data    []json.RawMessage `json:"data"`
	HasNext bool              `json:"has_next"`
	NextNum *int              `json:"next_num"`
}

// Client talks to the Congressus REST API with a bearer token.
type Client struct {
	baseURL  string
	apiKey   string
	pageSize int
	client   *http.Client
	logger   *logger.Logger
}

// NewClient builds a client from cfg. When httpClient is nil a client with
// cfg.Timeout is created.
func NewClient(cfg config.CongressusConfig, httpClient *http.Client, log *logger.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		pageSize: cfg.PageSize,
		client:   httpClient,
		logger:   log,
	}
}

// FetchEvents lists every event.
func (c *Client) FetchEvents(ctx context.Context) ([]json.RawMessage, error) {
	return c.FetchAll(ctx, "/events")
}

// FetchParticipations lists every participation of one event.
func (c *Client) FetchParticipations(ctx context.Context, eventID string) ([]json.RawMessage, error) {
	return c.FetchAll(ctx, fmt.Sprintf("/events/%s/participations", url.PathEscape(eventID)))
}

// FetchAll walks a paginated collection from page 1 until has_next is false
// and returns all records in order. Any failed page fails the whole call.
func (c *Client) FetchAll(ctx context.Context, path string) ([]json.RawMessage, error) {
	records := []json.RawMessage{}
	pageNum := 1
	pages := 0

	for {
		query := url.Values{}
		query.Set("page_size", strconv.Itoa(c.pageSize))
		query.Set("page", strconv.Itoa(pageNum))

		var p page
		if err := c.getJSON(ctx, "list", path, query, &p); err != nil {
			return nil, err
		}
		pages++
		records = append(records, p.Data...)

		if !p.HasNext {
			break
		}
		if p.NextNum != nil {
			pageNum = *p.NextNum
		} else {
			pageNum++
		}
	}

	c.logger.LogRemote(http.MethodGet, path, fmt.Sprintf("fetched %d records in %d pages", len(records), pages))
	return records, nil
}

// FetchParticipation returns the participation detail record, which carries
// the nested tickets and their presence status.
func (c *Client) FetchParticipation(ctx context.Context, eventID, participationID string) (json.RawMessage, error) {
	path := fmt.Sprintf("/events/%s/participations/%s", url.PathEscape(eventID), url.PathEscape(participationID))
	var record json.RawMessage
	if err := c.getJSON(ctx, "detail", path, nil, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// SetPresence changes the presence status of a participation's tickets.
// Congressus acknowledges with 204 No Content; anything else is an error.
func (c *Client) SetPresence(ctx context.Context, eventID, participationID, status string) error {
	path := fmt.Sprintf("/events/%s/participations/%s/set-presence", url.PathEscape(eventID), url.PathEscape(participationID))

	body, err := json.Marshal(map[string]string{"status_presence": status})
	if err != nil {
		return fmt.Errorf("failed to encode set-presence payload: %w", err)
	}

	resp, err := c.do(ctx, "set_presence", http.MethodPost, path, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusNoContent {
		return c.statusError(http.MethodPost, path, resp)
	}
	c.logger.LogRemote(http.MethodPost, path, fmt.Sprintf("status_presence set to %s", status))
	return nil
}

func (c *Client) getJSON(ctx context.Context, operation, path string, query url.Values, out interface{}) error {
	resp, err := c.do(ctx, operation, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(http.MethodGet, path, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode congressus response for %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create congressus request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		monitoring.TrackRemote(operation, "error", time.Since(started))
		c.logger.Error("CONGRESSUS", fmt.Sprintf("%s %s failed: %v", method, path, err))
		return nil, fmt.Errorf("%w: congressus %s %s: %w", ErrUnavailable, method, path, err)
	}
	monitoring.TrackRemote(operation, strconv.Itoa(resp.StatusCode), time.Since(started))
	c.logger.Debug("CONGRESSUS", fmt.Sprintf("%s %s -> %d", method, endpoint, resp.StatusCode))
	return resp, nil
}

func (c *Client) statusError(method, path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	c.logger.Error("CONGRESSUS", fmt.Sprintf("%s %s returned status %d: %s", method, path, resp.StatusCode, string(raw)))
	return &StatusError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Body:       string(raw),
	}
}

func (c *Client) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Error("CONGRESSUS", fmt.Sprintf("Failed to close response body: %v", err))
	}
}
