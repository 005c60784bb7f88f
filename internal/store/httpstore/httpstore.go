// Package httpstore is a Store backed by the REST document service.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/scanquest/scanquest-server-go/internal/card"
	"github.com/scanquest/scanquest-server-go/internal/store"
	"go.uber.org/zap"
)

// maxErrorBody caps how much of a failed response is kept for the error text.
const maxErrorBody = 512

// Client talks to the document service:
//
//	GET    {base}/users/{uid}/cards
//	GET    {base}/users/{uid}/cards/{id}
//	PUT    {base}/users/{uid}/cards/{id}
//	DELETE {base}/users/{uid}/cards/{id}
//	GET    {base}/catalog
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ store.Store = (*Client)(nil)

// New creates a client. timeout bounds every request.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *Client) cardsPath(userID string) string {
	return c.baseURL + "/users/" + url.PathEscape(userID) + "/cards"
}

func (c *Client) cardPath(userID, id string) string {
	return c.cardsPath(userID) + "/" + url.PathEscape(id)
}

func (c *Client) GetInventory(ctx context.Context, userID string) ([]card.Card, error) {
	var out []card.Card
	if err := c.do(ctx, http.MethodGet, c.cardsPath(userID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetEventByID(ctx context.Context, userID, id string) (card.Card, error) {
	var out card.Card
	if err := c.do(ctx, http.MethodGet, c.cardPath(userID, id), nil, &out); err != nil {
		return card.Card{}, err
	}
	return out, nil
}

func (c *Client) CreateOrUpdateEvent(ctx context.Context, userID string, in card.Card) (card.Card, error) {
	var out card.Card
	if err := c.do(ctx, http.MethodPut, c.cardPath(userID, in.ID), in, &out); err != nil {
		return card.Card{}, err
	}
	if out.ID == "" {
		// Some deployments answer 204 with no body.
		return in.Clone(), nil
	}
	return out, nil
}

func (c *Client) DeleteEvent(ctx context.Context, userID, id string) error {
	return c.do(ctx, http.MethodDelete, c.cardPath(userID, id), nil, nil)
}

func (c *Client) GetMasterCatalog(ctx context.Context) ([]card.Card, error) {
	var out []card.Card
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/catalog", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return card.Unavailable(method+" "+endpoint, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("store request",
		zap.String("method", method),
		zap.String("url", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return card.NotFound(endpoint)
	case resp.StatusCode >= 500:
		return card.Unavailable(method+" "+endpoint, statusError(resp))
	case resp.StatusCode >= 400:
		return statusError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return card.Unavailable(method+" "+endpoint, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("store responded %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}
