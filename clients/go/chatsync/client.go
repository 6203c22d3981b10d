// Package chatsync provides a client for the chatsync HTTP gateway.
package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is a chatsync API client acting as one user.
type Client struct {
	BaseURL    string
	Username   string
	UserID     string // optional
	HTTPClient *http.Client
}

// NewClient creates a new client for username.
func NewClient(baseURL, username string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		BaseURL:    baseURL,
		Username:   username,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chatsync error %d: %s", e.Status, e.Message)
}

// doRequest performs an HTTP request and decodes the JSON response into out.
func (c *Client) doRequest(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Chatsync-Username", c.Username)
	if c.UserID != "" {
		req.Header.Set("X-Chatsync-User", c.UserID)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// Message is a stored chat message.
type Message struct {
	ID          int64     `json:"id"`
	Room        string    `json:"room"`
	Username    string    `json:"username"`
	UserDestino string    `json:"user_destino"`
	PrendaID    *int64    `json:"prenda_id"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// MessagesResponse is the history of one conversation.
type MessagesResponse struct {
	Room     string    `json:"room"`
	Messages []Message `json:"messages"`
}

// Participants narrows a conversation to one item and its owner. Counterpart
// defaults to the requester named by the room key.
type Participants struct {
	SubjectID   int64
	Owner       string
	Counterpart string
}

// GetMessages retrieves the ordered history of a conversation. With
// participants, older rows stored under the item's legacy key are included.
func (c *Client) GetMessages(ctx context.Context, room string, p *Participants) (*MessagesResponse, error) {
	path := "/rooms/" + url.PathEscape(room) + "/messages"
	if p != nil {
		q := url.Values{}
		q.Set("subject", strconv.FormatInt(p.SubjectID, 10))
		q.Set("owner", p.Owner)
		if p.Counterpart != "" {
			q.Set("counterpart", p.Counterpart)
		}
		path += "?" + q.Encode()
	}

	var resp MessagesResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendRequest is the request body for sending a message.
type SendRequest struct {
	Content   string `json:"content"`
	SubjectID int64  `json:"subject_id"`
	Owner     string `json:"owner"`
}

// Send sends a message in the conversation room about an item of owner.
func (c *Client) Send(ctx context.Context, room string, subjectID int64, owner, content string) (*Message, error) {
	var resp Message
	req := SendRequest{Content: content, SubjectID: subjectID, Owner: owner}
	if err := c.doRequest(ctx, http.MethodPost, "/rooms/"+url.PathEscape(room)+"/messages", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Thread is one requester's conversation about an item.
type Thread struct {
	Requester   string    `json:"username"`
	Room        string    `json:"room"`
	Messages    []Message `json:"messages"`
	LastMessage Message   `json:"last_message"`
}

// ThreadsResponse lists the conversations about an item.
type ThreadsResponse struct {
	SubjectID int64    `json:"subject_id"`
	Threads   []Thread `json:"threads"`
}

// GetThreads lists the conversations about one of the user's items.
func (c *Client) GetThreads(ctx context.Context, subjectID int64) (*ThreadsResponse, error) {
	var resp ThreadsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/subjects/"+strconv.FormatInt(subjectID, 10)+"/threads", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MyRooms lists the rooms the user takes part in, most recent first.
func (c *Client) MyRooms(ctx context.Context) ([]string, error) {
	var resp struct {
		Rooms []string `json:"rooms"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/me/rooms", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

// Notification is a ledger row with its display label.
type Notification struct {
	ID          int64     `json:"id"`
	UserDestiny string    `json:"user_destiny"`
	UserSender  string    `json:"user_sender"`
	PrendaID    *int64    `json:"prenda_id"`
	Type        string    `json:"type"`
	Text        string    `json:"text"`
	MessageID   *int64    `json:"message_id"`
	CreatedAt   time.Time `json:"created_at"`
	Read        bool      `json:"read"`
	Label       string    `json:"label"`
}

// Bell is the notification bell of the user.
type Bell struct {
	UnreadCount   int64          `json:"unread_count"`
	Notifications []Notification `json:"notifications"`
}

// GetNotifications returns the newest notifications and the unread count. A
// limit of zero uses the server default.
func (c *Client) GetNotifications(ctx context.Context, limit int) (*Bell, error) {
	path := "/notifications"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp Bell
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkRead marks one notification read and returns the refreshed bell.
func (c *Client) MarkRead(ctx context.Context, id int64) (*Bell, error) {
	var resp Bell
	if err := c.doRequest(ctx, http.MethodPost, "/notifications/"+strconv.FormatInt(id, 10)+"/read", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkAllRead marks every notification read and returns the refreshed bell.
func (c *Client) MarkAllRead(ctx context.Context) (*Bell, error) {
	var resp Bell
	if err := c.doRequest(ctx, http.MethodPost, "/notifications/read-all", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
