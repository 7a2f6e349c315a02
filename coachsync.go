// Package coachsync keeps a local, ordered, consistent view of client↔trainer
// chat rooms by reconciling three asynchronous sources of truth: optimistic
// local sends, the authoritative HTTP ack, and the WebSocket push channel.
//
// Example:
//
//	client := coachsync.NewClient("https://api.example.com", token)
//	co := coachsync.NewCoordinator(client, coachsync.Config{
//		PushURL: "wss://push.example.com",
//		Token:   token,
//		SelfID:  "user-42",
//	})
//	if err := co.Start(ctx); err != nil { ... }
//
//	localID, _ := co.SendText(ctx, "room-1", "Hello!")
//	msgs := co.Messages("room-1")
package coachsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds every collaborator API request.
const DefaultTimeout = 30 * time.Second

// ============================================================================
// Client
// ============================================================================

// Client talks to the collaborator REST API. It is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *zap.Logger
}

type ClientOption func(*Client)

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithClientLogger(log *zap.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a collaborator API client. baseURL is the API root,
// token is the session bearer token.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken updates the session token, e.g. after re-authentication.
func (c *Client) SetToken(token string) {
	c.token = token
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if err := checkStatus(resp.StatusCode, data); err != nil {
		return nil, err
	}
	return data, nil
}

// checkStatus maps HTTP failures to the engine's error taxonomy: 401/403 is
// session-fatal, everything else surfaces the server-reported APIError.
func checkStatus(status int, body []byte) error {
	if status < 300 {
		return nil
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return fmt.Errorf("HTTP %d: %w", status, ErrUnauthenticated)
	}
	var apiErr APIError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		return &apiErr
	}
	return &APIError{Code: fmt.Sprintf("HTTP_%d", status), Message: http.StatusText(status)}
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Chat API Methods
// ============================================================================

// ListRooms fetches the full room directory with trainer metadata, last
// message, unread count, and online flag.
func (c *Client) ListRooms(ctx context.Context) ([]Room, error) {
	data, err := c.doRequest(ctx, "GET", "/chat/rooms", nil, nil)
	if err != nil {
		return nil, err
	}
	rooms, err := decodeJSON[[]Room](data)
	if err != nil {
		return nil, err
	}
	return *rooms, nil
}

// ListMessages fetches a page of message history for a room, newest-last.
// Pages start at 1; limit 0 uses the server default.
func (c *Client) ListMessages(ctx context.Context, roomID string, page, limit int) ([]ServerMessage, error) {
	query := map[string]string{}
	if page > 0 {
		query["page"] = strconv.Itoa(page)
	}
	if limit > 0 {
		query["limit"] = strconv.Itoa(limit)
	}
	data, err := c.doRequest(ctx, "GET", "/chat/rooms/"+roomID+"/messages", nil, query)
	if err != nil {
		return nil, err
	}
	msgs, err := decodeJSON[[]ServerMessage](data)
	if err != nil {
		return nil, err
	}
	return *msgs, nil
}

// CreateMessage persists a message and returns the confirmed entry with its
// server-assigned id and timestamp.
func (c *Client) CreateMessage(ctx context.Context, roomID, content string, kind MessageKind) (*ServerMessage, error) {
	if kind == "" {
		kind = KindText
	}
	payload := map[string]interface{}{"content": content, "type": kind}
	data, err := c.doRequest(ctx, "POST", "/chat/rooms/"+roomID+"/messages", payload, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[ServerMessage](data)
}

// MarkRead marks a room read server-side.
func (c *Client) MarkRead(ctx context.Context, roomID string) error {
	_, err := c.doRequest(ctx, "POST", "/chat/rooms/"+roomID+"/read", nil, nil)
	return err
}

// ============================================================================
// Upload
// ============================================================================

// UploadOptions configures an attachment upload.
type UploadOptions struct {
	FileName string
	Kind     MessageKind // image, video, or file; guessed from MIME when empty
	MimeType string      // guessed from the file extension when empty
}

// Upload sends an attachment as multipart {file, type, roomId} and returns
// the created message referencing the stored attachment.
func (c *Client) Upload(ctx context.Context, roomID string, data []byte, opts *UploadOptions) (*ServerMessage, error) {
	if opts == nil || opts.FileName == "" {
		return nil, fmt.Errorf("fileName is required when uploading bytes")
	}
	mimeType := opts.MimeType
	if mimeType == "" {
		mimeType = guessMimeType(opts.FileName)
	}
	kind := opts.Kind
	if kind == "" {
		kind = kindForMime(mimeType)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", opts.FileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write file data: %w", err)
	}
	_ = w.WriteField("type", string(kind))
	_ = w.WriteField("roomId", roomID)
	_ = w.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload response: %w", err)
	}
	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return decodeJSON[ServerMessage](respBody)
}

// UploadFile uploads an attachment from a local path. FileName and MimeType
// are auto-detected from the path when not set.
func (c *Client) UploadFile(ctx context.Context, roomID, filePath string, opts *UploadOptions) (*ServerMessage, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if opts == nil {
		opts = &UploadOptions{}
	}
	if opts.FileName == "" {
		opts.FileName = filepath.Base(filePath)
	}
	return c.Upload(ctx, roomID, data, opts)
}

// IsFatal reports whether err requires tearing down the session.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}

// ============================================================================
// Helpers
// ============================================================================

// guessMimeType returns MIME type from file extension.
func guessMimeType(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	// Fallback for types not in Go's builtin registry
	fallback := map[string]string{
		".webp": "image/webp", ".webm": "video/webm", ".heic": "image/heic",
	}
	if m, ok := fallback[ext]; ok {
		return m
	}
	t := mime.TypeByExtension(ext)
	if t != "" {
		if idx := strings.Index(t, ";"); idx > 0 {
			t = strings.TrimSpace(t[:idx])
		}
		return t
	}
	return "application/octet-stream"
}

func kindForMime(mimeType string) MessageKind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage
	case strings.HasPrefix(mimeType, "video/"):
		return KindVideo
	default:
		return KindFile
	}
}
