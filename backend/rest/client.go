// Package rest implements the backend client over the hosted backend's
// HTTP surface: token grants under /auth/v1, table reads and remote
// procedures under /rest/v1. The client also acts as the local auth event
// source, emitting SIGNED_IN / TOKEN_REFRESHED / SIGNED_OUT to registered
// listeners on its own transitions.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/curiobid/go-marketplace-client/backend"
	"github.com/curiobid/go-marketplace-client/internal/utils"
	"github.com/curiobid/go-marketplace-client/session"
)

var _ backend.Client = (*Client)(nil)
var _ session.Refresher = (*Client)(nil)

const (
	authPath  = "/auth/v1"
	restPath  = "/rest/v1"
	usersView = "users_ext"
)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// Client talks to the hosted backend. It holds the current session and
// guards it with a mutex; sessions are replaced wholesale, never mutated.
type Client struct {
	baseURL  string
	apiKey   string
	clientID string
	http     *http.Client
	log      zerolog.Logger

	mu        sync.Mutex
	current   *session.Session
	listeners map[int]backend.AuthChangeFunc
	order     []int
	nextID    int
}

// New creates a REST backend client for the project at baseURL,
// authenticating requests with apiKey.
func New(baseURL, apiKey string, options ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("[rest.New] baseURL is required")
	}
	if apiKey == "" {
		return nil, errors.New("[rest.New] apiKey is required")
	}

	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		clientID:  uuid.New().String(),
		http:      &http.Client{Timeout: 30 * time.Second},
		log:       zerolog.Nop(),
		listeners: make(map[int]backend.AuthChangeFunc),
	}

	for _, opt := range options {
		opt(c)
	}

	return c, nil
}

// tokenResponse is the auth endpoint's grant response.
type tokenResponse struct {
	AccessToken  string          `json:"access_token"`
	TokenType    string          `json:"token_type"`
	ExpiresIn    int64           `json:"expires_in"`
	ExpiresAt    int64           `json:"expires_at"`
	RefreshToken string          `json:"refresh_token"`
	User         identityPayload `json:"user"`
}

type identityPayload struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// SignInWithPassword performs the password grant and adopts the resulting
// session as current.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*session.Session, error) {
	body := map[string]any{"email": email, "password": password}
	sess, err := c.tokenGrant(ctx, "password", body)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.SignInWithPassword] token grant")
	}
	c.adopt(sess, backend.EventSignedIn)
	return sess, nil
}

// SignUp registers a new account. When the backend returns a session (no
// email confirmation required) it is adopted as current.
func (c *Client) SignUp(ctx context.Context, email, password, username string) (*session.Session, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
		"data":     map[string]any{"username": username},
	}
	raw, status, err := c.do(ctx, http.MethodPost, c.baseURL+authPath+"/signup", body, false)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.SignUp] request")
	}
	if status != http.StatusOK {
		return nil, statusError("[Client.SignUp]", status, raw)
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, errors.Wrap(err, "[Client.SignUp] decode response")
	}
	if tr.AccessToken == "" {
		// Confirmation email flow: no session until the address is verified.
		return nil, nil
	}

	sess, err := c.sessionFromToken(tr)
	if err != nil {
		return nil, err
	}
	c.adopt(sess, backend.EventSignedIn)
	return sess, nil
}

// SignInWithIDToken exchanges a verified provider ID token for a backend
// session (OAuth completion).
func (c *Client) SignInWithIDToken(ctx context.Context, provider, rawIDToken, nonce string) (*session.Session, error) {
	body := map[string]any{
		"provider": provider,
		"id_token": rawIDToken,
	}
	if nonce != "" {
		body["nonce"] = nonce
	}
	sess, err := c.tokenGrant(ctx, "id_token", body)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.SignInWithIDToken] token grant")
	}
	c.adopt(sess, backend.EventSignedIn)
	return sess, nil
}

// GetCurrentSession returns the client's current session, or nil when
// signed out.
func (c *Client) GetCurrentSession(ctx context.Context) (*session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, nil
	}
	sess := *c.current
	return &sess, nil
}

// AdoptSession seeds the client with a session restored from a local
// snapshot and announces it as a sign-in.
func (c *Client) AdoptSession(sess *session.Session) {
	if sess == nil {
		return
	}
	c.adopt(sess, backend.EventSignedIn)
}

// RefreshSession exchanges the current refresh token for a fresh session.
func (c *Client) RefreshSession(ctx context.Context) (*session.Session, error) {
	c.mu.Lock()
	var refreshToken string
	if c.current != nil {
		refreshToken = c.current.RefreshToken
	}
	c.mu.Unlock()

	if refreshToken == "" {
		return nil, backend.ErrNotAuthenticated
	}

	sess, err := c.tokenGrant(ctx, "refresh_token", map[string]any{"refresh_token": refreshToken})
	if err != nil {
		return nil, errors.Wrap(err, "[Client.RefreshSession] token grant")
	}
	c.adopt(sess, backend.EventTokenRefreshed)
	return sess, nil
}

// SignOut revokes the grant remotely and drops the current session. The
// local drop and the SIGNED_OUT event happen even when the remote call
// fails.
func (c *Client) SignOut(ctx context.Context) error {
	_, status, err := c.do(ctx, http.MethodPost, c.baseURL+authPath+"/logout", nil, true)

	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	c.emit(backend.EventSignedOut, nil)

	if err != nil {
		return errors.Wrap(err, "[Client.SignOut] request")
	}
	if status != http.StatusNoContent && status != http.StatusOK {
		return statusError("[Client.SignOut]", status, nil)
	}
	return nil
}

// OnAuthChange registers a persistent auth event listener.
func (c *Client) OnAuthChange(cb backend.AuthChangeFunc) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = cb
	c.order = append(c.order, id)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// FetchUserRow selects the profile row for userID from the users view.
func (c *Client) FetchUserRow(ctx context.Context, userID string) (*backend.ProfileRow, error) {
	endpoint := fmt.Sprintf("%s%s/%s?id=eq.%s&select=*", c.baseURL, restPath, usersView, url.QueryEscape(userID))
	raw, status, err := c.do(ctx, http.MethodGet, endpoint, nil, true)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.FetchUserRow] request")
	}
	if status != http.StatusOK {
		return nil, statusError("[Client.FetchUserRow]", status, raw)
	}

	var rows []backend.ProfileRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, errors.Wrap(err, "[Client.FetchUserRow] decode rows")
	}
	if len(rows) == 0 {
		return nil, backend.ErrNotFound
	}
	return &rows[0], nil
}

// UpdateUserRow patches the profile row and returns the representation the
// backend sends back.
func (c *Client) UpdateUserRow(ctx context.Context, userID string, patch map[string]any) (*backend.ProfileRow, error) {
	endpoint := fmt.Sprintf("%s%s/%s?id=eq.%s", c.baseURL, restPath, usersView, url.QueryEscape(userID))
	raw, status, err := c.doWithHeaders(ctx, http.MethodPatch, endpoint, patch, true, map[string]string{
		"Prefer": "return=representation",
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Client.UpdateUserRow] request")
	}
	if status != http.StatusOK {
		return nil, statusError("[Client.UpdateUserRow]", status, raw)
	}

	var rows []backend.ProfileRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, errors.Wrap(err, "[Client.UpdateUserRow] decode rows")
	}
	if len(rows) == 0 {
		return nil, backend.ErrNotFound
	}
	return &rows[0], nil
}

// CallProcedure invokes a stored procedure under /rest/v1/rpc.
func (c *Client) CallProcedure(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s%s/rpc/%s", c.baseURL, restPath, url.PathEscape(name))
	raw, status, err := c.do(ctx, http.MethodPost, endpoint, args, true)
	if err != nil {
		return nil, errors.Wrapf(err, "[Client.CallProcedure] %s", name)
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return nil, statusError("[Client.CallProcedure]", status, raw)
	}
	return json.RawMessage(raw), nil
}

func (c *Client) tokenGrant(ctx context.Context, grantType string, body map[string]any) (*session.Session, error) {
	endpoint := fmt.Sprintf("%s%s/token?grant_type=%s", c.baseURL, authPath, url.QueryEscape(grantType))
	raw, status, err := c.do(ctx, http.MethodPost, endpoint, body, false)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, statusError("[Client.tokenGrant]", status, raw)
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, errors.Wrap(err, "decode token response")
	}
	return c.sessionFromToken(tr)
}

// sessionFromToken builds a session from a grant response, resolving the
// absolute expiry from expires_at, then expires_in, then the access
// token's own exp claim.
func (c *Client) sessionFromToken(tr tokenResponse) (*session.Session, error) {
	if tr.AccessToken == "" {
		return nil, errors.New("token response missing access token")
	}

	expiresAt := tr.ExpiresAt
	if expiresAt == 0 && tr.ExpiresIn > 0 {
		expiresAt = time.Now().Unix() + tr.ExpiresIn
	}
	if expiresAt == 0 {
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(tr.AccessToken, claims); err == nil {
			if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
				expiresAt = exp.Unix()
			}
		}
	}
	if expiresAt == 0 {
		return nil, errors.New("token response carries no resolvable expiry")
	}

	return &session.Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    expiresAt,
		User: session.Identity{
			ID:       tr.User.ID,
			Email:    tr.User.Email,
			Metadata: utils.ToStringMap(tr.User.UserMetadata),
		},
	}, nil
}

func (c *Client) adopt(sess *session.Session, event backend.AuthEvent) {
	c.mu.Lock()
	c.current = sess
	c.mu.Unlock()
	c.emit(event, sess)
}

func (c *Client) emit(event backend.AuthEvent, sess *session.Session) {
	c.mu.Lock()
	cbs := make([]backend.AuthChangeFunc, 0, len(c.listeners))
	for _, id := range c.order {
		if cb, ok := c.listeners[id]; ok {
			cbs = append(cbs, cb)
		}
	}
	c.mu.Unlock()

	for _, cb := range cbs {
		cb(event, sess)
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, authed bool) ([]byte, int, error) {
	return c.doWithHeaders(ctx, method, endpoint, body, authed, nil)
}

func (c *Client) doWithHeaders(ctx context.Context, method, endpoint string, body any, authed bool, headers map[string]string) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, 0, errors.Wrap(err, "marshal request body")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, errors.Wrap(err, "build request")
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("X-Client-Info", "go-marketplace-client/"+c.clientID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		c.mu.Lock()
		if c.current != nil {
			req.Header.Set("Authorization", "Bearer "+c.current.AccessToken)
		}
		c.mu.Unlock()
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, errors.Wrapf(backend.ErrBackendUnavailable, "%s %s: %v", method, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, errors.Wrap(err, "read response body")
	}
	return raw, resp.StatusCode, nil
}

// statusError maps HTTP statuses to the backend error taxonomy.
func statusError(op string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.Wrapf(backend.ErrNotAuthenticated, "%s status %d", op, status)
	case status == http.StatusNotFound:
		return errors.Wrapf(backend.ErrNotFound, "%s status %d", op, status)
	case status == http.StatusConflict:
		return errors.Wrapf(backend.ErrConflict, "%s status %d: %s", op, status, msg)
	case status >= http.StatusInternalServerError:
		return errors.Wrapf(backend.ErrBackendUnavailable, "%s status %d", op, status)
	default:
		return errors.Errorf("%s unexpected status %d: %s", op, status, msg)
	}
}
