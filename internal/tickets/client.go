// Package tickets talks to the ticket tracker that supplies agenda items
// and receives review outcomes. It is a plain request/response collaborator;
// nothing here touches the session document.
package tickets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// AgendaItem is one ticket/flow combination awaiting approval.
type AgendaItem struct {
	ID            string `json:"id"`
	AgendaItemID  string `json:"agendaItemId"`
	Title         string `json:"title"`
	OwnerIdentity string `json:"ownerIdentity"`
	OwnerName     string `json:"ownerName"`
	Product       string `json:"product"`
	Order         int    `json:"order"`
}

// Outcome is the reviewed verdict pushed back per item at session closure.
type Outcome struct {
	Decision           string `json:"decision"`
	BallotCount        int    `json:"ballotCount"`
	ApprovedCount      int    `json:"approvedCount"`
	NeedsRevisionCount int    `json:"needsRevisionCount"`
}

// Client is a bearer-token JSON client for the tracker API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// ListForDate fetches the agenda for one review day.
func (c *Client) ListForDate(ctx context.Context, date string) ([]AgendaItem, error) {
	endpoint := fmt.Sprintf("%s/agenda?date=%s", c.baseURL, url.QueryEscape(date))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build agenda request: %w", err)
	}

	var payload struct {
		Items []AgendaItem `json:"items"`
	}
	if err := c.do(req, &payload); err != nil {
		return nil, err
	}
	return payload.Items, nil
}

// MarkReviewed records the decided outcome on the tracker item.
func (c *Client) MarkReviewed(ctx context.Context, id string, outcome Outcome) error {
	return c.post(ctx, fmt.Sprintf("/items/%s/reviewed", url.PathEscape(id)), outcome)
}

// ClearReview returns an item to the not-yet-voted state after a cancelled
// vote.
func (c *Client) ClearReview(ctx context.Context, id string) error {
	return c.post(ctx, fmt.Sprintf("/items/%s/clear-review", url.PathEscape(id)), nil)
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal tracker payload: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build tracker request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, target any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("tracker request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("tracker responded %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode tracker response: %w", err)
	}
	return nil
}
