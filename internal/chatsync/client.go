package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// CSRFHeader carries the anti-forgery token on state-changing requests.
const CSRFHeader = "X-CSRF-Token"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 4 << 20

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BaseURL is the marketplace API root (e.g. "http://localhost:8080").
	BaseURL string
	// HTTPClient is used for all requests. If nil, a client with a fresh
	// cookie jar is created so the session cookie set by Login travels on
	// every later call. A caller-supplied client must carry its own jar.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
	// Tokens supplies the anti-forgery token. If nil, a CSRFProvider backed
	// by GET /auth/csrf is used.
	Tokens TokenSource
}

// Client speaks the marketplace conversation API. It is safe for
// concurrent use; one Client is typically shared by every shell in a
// process.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	tokens     TokenSource
}

// NewClient validates config and returns a Client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("chatsync: BaseURL is required")
	}
	parsed, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("chatsync: invalid BaseURL %q: %w", config.BaseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("chatsync: BaseURL %q must be http or https", config.BaseURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("chatsync: creating cookie jar: %w", err)
		}
		httpClient = &http.Client{Jar: jar, Timeout: 30 * time.Second}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		tokens:     config.Tokens,
	}
	if c.tokens == nil {
		c.tokens = NewCSRFProvider(c.fetchCSRF)
	}
	return c, nil
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     Role   `json:"role,omitempty"`
}

// Register creates an account and starts a session for it.
func (c *Client) Register(ctx context.Context, email, password string, role Role) (*Viewer, error) {
	var viewer Viewer
	request := credentialsRequest{Email: email, Password: password, Role: role}
	if err := c.do(ctx, http.MethodPost, "/auth/register", nil, request, &viewer, false); err != nil {
		return nil, fmt.Errorf("chatsync: register: %w", err)
	}
	c.tokens.Invalidate()
	c.logger.Info("registered", "user_id", viewer.ID, "role", viewer.Role)
	return &viewer, nil
}

// Login starts a session. The session cookie lands in the client's jar.
func (c *Client) Login(ctx context.Context, email, password string) (*Viewer, error) {
	var viewer Viewer
	request := credentialsRequest{Email: email, Password: password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, request, &viewer, false); err != nil {
		return nil, fmt.Errorf("chatsync: login: %w", err)
	}
	// A token minted for a previous session is useless now.
	c.tokens.Invalidate()
	c.logger.Info("logged in", "user_id", viewer.ID, "role", viewer.Role)
	return &viewer, nil
}

// Logout ends the session.
func (c *Client) Logout(ctx context.Context) error {
	defer c.tokens.Invalidate()
	if err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, nil, false); err != nil {
		return fmt.Errorf("chatsync: logout: %w", err)
	}
	return nil
}

// WhoAmI returns the authenticated viewer.
func (c *Client) WhoAmI(ctx context.Context) (*Viewer, error) {
	var viewer Viewer
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, nil, &viewer, false); err != nil {
		return nil, fmt.Errorf("chatsync: whoami: %w", err)
	}
	return &viewer, nil
}

// OpenConversation obtains or creates the conversation for anchor. The
// server guarantees repeated calls return the same conversation.
func (c *Client) OpenConversation(ctx context.Context, anchor Anchor) (*Conversation, error) {
	var conversation Conversation
	if err := c.do(ctx, http.MethodPost, "/conversations", nil, anchor, &conversation, true); err != nil {
		return nil, fmt.Errorf("chatsync: open conversation: %w", err)
	}
	return &conversation, nil
}

// ListConversations returns the viewer's conversations with previews.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var response itemsResponse[Conversation]
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, nil, &response, false); err != nil {
		return nil, fmt.Errorf("chatsync: list conversations: %w", err)
	}
	return response.Items, nil
}

// FetchSince returns messages newer than cursor, or all messages when the
// cursor is unset. The result order is whatever the server sent.
func (c *Client) FetchSince(ctx context.Context, conversationID string, cursor Cursor) ([]Message, error) {
	var query url.Values
	if cursor.IsSet() {
		query = url.Values{"after": {cursor.Time().UTC().Format(time.RFC3339Nano)}}
	}
	var response itemsResponse[Message]
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, query, nil, &response, false); err != nil {
		return nil, fmt.Errorf("chatsync: fetch messages: %w", err)
	}
	return response.Items, nil
}

type sendRequest struct {
	Body string `json:"body"`
}

// SendMessage posts body and returns the server-confirmed message.
func (c *Client) SendMessage(ctx context.Context, conversationID, body string) (*Message, error) {
	var message Message
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, nil, sendRequest{Body: body}, &message, true); err != nil {
		return nil, fmt.Errorf("chatsync: send message: %w", err)
	}
	return &message, nil
}

// MarkRead records that the viewer has read the conversation up to now.
// The response body is ignored.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/read"
	if err := c.do(ctx, http.MethodPost, path, nil, nil, nil, true); err != nil {
		return fmt.Errorf("chatsync: mark read: %w", err)
	}
	return nil
}

func (c *Client) fetchCSRF(ctx context.Context) (string, error) {
	var response struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/csrf", nil, nil, &response, false); err != nil {
		return "", fmt.Errorf("chatsync: csrf token: %w", err)
	}
	if response.Token == "" {
		return "", fmt.Errorf("chatsync: csrf token: %w: empty token", ErrUnavailable)
	}
	return response.Token, nil
}

// do performs one request. requestBody and out may be nil. When mutating
// is set the anti-forgery header is attached. Non-2xx responses come back
// as *APIError; a 401 also drops the cached anti-forgery token.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, requestBody, out any, mutating bool) error {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("%w: encoding request body: %v", ErrUnavailable, err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return fmt.Errorf("%w: creating request: %v", ErrUnavailable, err)
	}
	request.Header.Set("Accept", "application/json")
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if mutating {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}
		request.Header.Set(CSRFHeader, token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: response.StatusCode}
		if jsonErr := json.Unmarshal(responseBody, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(responseBody))
		}
		if response.StatusCode == http.StatusUnauthorized {
			c.tokens.Invalidate()
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("%w: decoding %s %s response: %v", ErrUnavailable, method, path, err)
	}
	return nil
}
