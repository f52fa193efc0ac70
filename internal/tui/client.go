package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"dispatchd/internal/taskmgr"
	"dispatchd/pkg/models"
)

// Client talks to a running dispatchd API: a websocket for the live
// event stream plus plain HTTP for stats snapshots.
type Client struct {
	base string
	conn *websocket.Conn
	http *http.Client
}

// Dial connects to the server's global event stream. base is the HTTP
// base URL, e.g. "http://localhost:8400".
func Dial(base string) (*Client, error) {
	wsURL := strings.Replace(strings.TrimRight(base, "/"), "http", "ws", 1) + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connect event stream: %w", err)
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		conn: conn,
		http: &http.Client{Timeout: 5 * time.Second},
	}, nil
}

// Next blocks for the next lifecycle event.
func (c *Client) Next() (taskmgr.Event, error) {
	var ev taskmgr.Event
	if err := c.conn.ReadJSON(&ev); err != nil {
		return taskmgr.Event{}, err
	}
	return ev, nil
}

// Stats fetches a manager stats snapshot.
func (c *Client) Stats() (taskmgr.Stats, error) {
	var stats taskmgr.Stats
	if err := c.getJSON("/v1/stats", &stats); err != nil {
		return taskmgr.Stats{}, err
	}
	return stats, nil
}

// Agents fetches the registered agents.
func (c *Client) Agents() ([]models.AgentDescriptor, error) {
	var payload struct {
		Agents []models.AgentDescriptor `json:"agents"`
	}
	if err := c.getJSON("/v1/agents", &payload); err != nil {
		return nil, err
	}
	return payload.Agents, nil
}

// Close shuts the event stream down.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) getJSON(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
