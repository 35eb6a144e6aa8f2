package chatkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// APIError is a non-2xx response from the chat API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Attachment is a file to upload with a message send.
type Attachment struct {
	FileName string
	MimeType string
	Data     io.Reader
}

// Client talks to a teamgrid chat server.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// New creates a client for the given server and bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ListChats fetches the caller's chats with summaries.
func (c *Client) ListChats(ctx context.Context) ([]ChatSummary, error) {
	var out struct {
		Chats []ChatSummary `json:"chats"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/chats", nil, &out); err != nil {
		return nil, err
	}
	return out.Chats, nil
}

// CreateChat creates a private or group chat.
func (c *Client) CreateChat(ctx context.Context, kind, name, companyID string, memberIDs []string) (*Chat, error) {
	body := map[string]interface{}{
		"kind":       kind,
		"company_id": companyID,
		"member_ids": memberIDs,
	}
	if name != "" {
		body["name"] = name
	}
	var chat Chat
	if err := c.doJSON(ctx, http.MethodPost, "/api/chats", body, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// History fetches one backward page of a chat's timeline. cursor is the
// NextCursor of a previous page; empty fetches the newest page.
func (c *Client) History(ctx context.Context, chatID string, limit int, cursor string) (*Page, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var page Page
	if err := c.doJSON(ctx, http.MethodGet, "/api/chats/"+chatID+"/messages?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Search pages through messages matching the query, case-insensitively.
func (c *Client) Search(ctx context.Context, chatID, query string, limit int, cursor string) (*SearchPage, error) {
	q := url.Values{}
	q.Set("q", query)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var page SearchPage
	if err := c.doJSON(ctx, http.MethodGet, "/api/chats/"+chatID+"/messages/search?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Send posts a new message. Without attachments it sends JSON; with
// attachments it builds a multipart body.
func (c *Client) Send(ctx context.Context, chatID, content string, attachments ...Attachment) (*Message, error) {
	path := "/api/chats/" + chatID + "/messages"
	var msg Message

	if len(attachments) == 0 {
		if err := c.doJSON(ctx, http.MethodPost, path, map[string]string{"content": content}, &msg); err != nil {
			return nil, err
		}
		return &msg, nil
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if content != "" {
		if err := mw.WriteField("content", content); err != nil {
			return nil, err
		}
	}
	for _, a := range attachments {
		part, err := mw.CreateFormFile("files", a.FileName)
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(part, a.Data); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if err := c.do(req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkDelivered reports receipt of a message. Repeating it is a no-op on
// the server; both calls return the current message.
func (c *Client) MarkDelivered(ctx context.Context, chatID, messageID string) (*Message, error) {
	var msg Message
	if err := c.doJSON(ctx, http.MethodPost, "/api/chats/"+chatID+"/messages/"+messageID+"/delivered", nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkRead reports that a message was seen.
func (c *Client) MarkRead(ctx context.Context, chatID, messageID string) (*Message, error) {
	var msg Message
	if err := c.doJSON(ctx, http.MethodPost, "/api/chats/"+chatID+"/messages/"+messageID+"/read", nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// WebsocketURL returns the subscription URL for a chat, with the token
// carried as a query parameter since browsers cannot set headers on
// websocket dials.
func (c *Client) WebsocketURL(chatID string) string {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/chats/" + chatID
	u.RawQuery = url.Values{"token": {c.Token}}.Encode()
	return u.String()
}

// DecodeEvent parses one frame from the realtime channel. Unknown event
// types are an error: the event set is closed and a new type means a
// client upgrade is due.
func DecodeEvent(payload []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	switch ev.Type {
	case EventMessageCreated:
		if ev.Message == nil {
			return nil, fmt.Errorf("%s event without message payload", ev.Type)
		}
	case EventMessageStatus:
		if ev.Status == nil {
			return nil, fmt.Errorf("%s event without status payload", ev.Type)
		}
	default:
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}
	return &ev, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+c.Token)

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope struct {
			Error string `json:"error"`
		}
		msg := resp.Status
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error != "" {
			msg = envelope.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
