package identity

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
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Refresh the access token when it expires within this window
const refreshLeeway = 30 * time.Second

// HTTPClient talks to a GoTrue-compatible identity backend over REST
type HTTPClient struct {
	baseURL    string
	apiKey     string
	storeKey   string
	httpClient *http.Client
	tokens     TokenStore
	events     *Broadcaster
	opener     func(string) error
	now        func() time.Time
	logger     zerolog.Logger

	// mu serializes reads and writes of the persisted session
	mu sync.Mutex
}

// Option configures an HTTPClient
type Option func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// WithOpener sets the function that sends the user to the OAuth provider
func WithOpener(open func(string) error) Option {
	return func(c *HTTPClient) { c.opener = open }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(c *HTTPClient) { c.now = now }
}

// NewHTTPClient creates a client for the backend at baseURL (for example
// https://project.example.com/auth/v1)
func NewHTTPClient(baseURL, apiKey string, tokens TokenStore, zlog zerolog.Logger, opts ...Option) *HTTPClient {
	baseURL = strings.TrimRight(baseURL, "/")

	storeKey := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		storeKey = u.Host
	}

	c := &HTTPClient{
		baseURL:  baseURL,
		apiKey:   apiKey,
		storeKey: storeKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		tokens: tokens,
		events: NewBroadcaster(zlog),
		now:    time.Now,
		logger: zlog,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnAuthStateChange subscribes fn to session-change events
func (c *HTTPClient) OnAuthStateChange(fn func(Event)) *Subscription {
	return c.events.Subscribe(fn)
}

// GetSession returns the persisted session, refreshing it first when the
// access token is about to expire. A refresh rejected by the backend is
// terminal: the stored session is dropped and SIGNED_OUT is emitted.
func (c *HTTPClient) GetSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored, err := c.tokens.LoadSession(c.storeKey)
	if errors.Is(err, ErrNoSession) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if !stored.Expired(c.now(), refreshLeeway) {
		return stored, nil
	}

	c.logger.Debug().Str("user_id", stored.User.ID).Msg("Access token expiring, refreshing session")

	refreshed, err := c.refresh(ctx, stored.RefreshToken)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			c.logger.Warn().Err(err).Msg("Session refresh rejected, signing out locally")
			if delErr := c.tokens.DeleteSession(c.storeKey); delErr != nil {
				c.logger.Warn().Err(delErr).Msg("Failed to delete rejected session")
			}
			c.events.Emit(EventSignedOut, nil)
		}
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}

	if err := c.tokens.SaveSession(c.storeKey, refreshed); err != nil {
		return nil, err
	}
	c.events.Emit(EventTokenRefreshed, refreshed)

	return refreshed, nil
}

// SignInWithPassword exchanges credentials for a session and emits SIGNED_IN
func (c *HTTPClient) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}

	var session Session
	if err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"password"}}, body, "", &session); err != nil {
		return nil, err
	}

	if err := c.establish(&session); err != nil {
		return nil, err
	}
	return &session, nil
}

// SignUp registers a new account. When the backend auto-confirms, the
// returned session is persisted and SIGNED_IN is emitted.
func (c *HTTPClient) SignUp(ctx context.Context, params SignUpParams) (*SignUpResult, error) {
	body := map[string]any{
		"email":    params.Email,
		"password": params.Password,
		"data":     params.Data,
	}

	query := url.Values{}
	if params.RedirectTo != "" {
		query.Set("redirect_to", params.RedirectTo)
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/signup", query, body, "", &raw); err != nil {
		return nil, err
	}

	// The backend answers with a session when it auto-confirms and with a
	// bare user when confirmation is pending.
	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if session.AccessToken != "" {
		if err := c.establish(&session); err != nil {
			return nil, err
		}
		user := session.User
		return &SignUpResult{User: &user, Session: &session}, nil
	}

	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &SignUpResult{User: &user}, nil
}

// AuthorizeURL builds the provider authorization URL
func (c *HTTPClient) AuthorizeURL(provider, redirectTo string) (string, error) {
	if provider == "" {
		return "", ErrUnknownProvider
	}

	query := url.Values{}
	query.Set("provider", provider)
	if redirectTo != "" {
		query.Set("redirect_to", redirectTo)
	}
	return fmt.Sprintf("%s/authorize?%s", c.baseURL, query.Encode()), nil
}

// SignInWithOAuth sends the user to the provider. The session arrives later
// through the callback URL (see DetectSessionInURL).
func (c *HTTPClient) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	authURL, err := c.AuthorizeURL(provider, redirectTo)
	if err != nil {
		return "", err
	}

	if c.opener != nil {
		if err := c.opener(authURL); err != nil {
			return "", fmt.Errorf("failed to open authorization page: %w", err)
		}
	}

	c.logger.Debug().Str("provider", provider).Msg("OAuth flow started")
	return authURL, nil
}

// DetectSessionInURL completes an implicit-grant redirect: it reads the
// tokens from the callback URL fragment, loads the user, persists the
// session and emits SIGNED_IN. It returns nil, nil when the URL carries no
// tokens.
func (c *HTTPClient) DetectSessionInURL(ctx context.Context, rawURL string) (*Session, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse callback URL: %w", err)
	}

	fragment, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return nil, fmt.Errorf("failed to parse callback fragment: %w", err)
	}
	query := u.Query()

	for _, values := range []url.Values{fragment, query} {
		if values.Get("error") != "" || values.Get("error_description") != "" {
			return nil, &APIError{
				Code:    values.Get("error"),
				Message: firstNonEmpty(values.Get("error_description"), values.Get("error")),
			}
		}
	}

	accessToken := fragment.Get("access_token")
	if accessToken == "" {
		return nil, nil
	}

	session := Session{
		AccessToken:  accessToken,
		RefreshToken: fragment.Get("refresh_token"),
		TokenType:    fragment.Get("token_type"),
	}
	session.ExpiresIn, _ = strconv.Atoi(fragment.Get("expires_in"))
	session.ExpiresAt, _ = strconv.ParseInt(fragment.Get("expires_at"), 10, 64)

	var user User
	if err := c.do(ctx, http.MethodGet, "/user", nil, nil, accessToken, &user); err != nil {
		return nil, err
	}
	session.User = user

	if err := c.establish(&session); err != nil {
		return nil, err
	}
	return &session, nil
}

// SignOut revokes the session remotely and always clears it locally.
// SIGNED_OUT is emitted even when the remote call fails.
func (c *HTTPClient) SignOut(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var remoteErr error
	stored, err := c.tokens.LoadSession(c.storeKey)
	switch {
	case errors.Is(err, ErrNoSession):
	case err != nil:
		c.logger.Warn().Err(err).Msg("Failed to load session for sign-out")
	default:
		remoteErr = c.do(ctx, http.MethodPost, "/logout", nil, nil, stored.AccessToken, nil)
		var apiErr *APIError
		if errors.As(remoteErr, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusNotFound) {
			// Token already invalid remotely
			remoteErr = nil
		}
	}

	if err := c.tokens.DeleteSession(c.storeKey); err != nil {
		return err
	}
	c.events.Emit(EventSignedOut, nil)

	if remoteErr != nil {
		return fmt.Errorf("signed out locally, remote sign-out failed: %w", remoteErr)
	}
	return nil
}

func (c *HTTPClient) refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, &APIError{Status: http.StatusBadRequest, Code: "invalid_grant", Message: "missing refresh token"}
	}

	var session Session
	body := map[string]string{"refresh_token": refreshToken}
	if err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"refresh_token"}}, body, "", &session); err != nil {
		return nil, err
	}
	fillExpiry(&session, c.now().Unix())
	return &session, nil
}

// establish persists a freshly obtained session and emits SIGNED_IN
func (c *HTTPClient) establish(session *Session) error {
	fillExpiry(session, c.now().Unix())

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.tokens.SaveSession(c.storeKey, session); err != nil {
		return err
	}
	c.events.Emit(EventSignedIn, session)

	c.logger.Info().Str("user_id", session.User.ID).Msg("Remote session established")
	return nil
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body any, bearer string, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", bearer))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)

	apiErr := &APIError{Status: resp.StatusCode}

	var body errorResponse
	if err := json.Unmarshal(data, &body); err == nil {
		apiErr.Code = firstNonEmpty(body.ErrorCode, body.Error)
		apiErr.Message = firstNonEmpty(body.ErrorDescription, body.Msg, body.Message, body.Error)
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
