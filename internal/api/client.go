// Package api is a typed client for the MedGuard REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukerupert/medguard/internal/apperr"
	"github.com/dukerupert/medguard/internal/model"
)

// TokenSource supplies the bearer credential for authenticated calls.
type TokenSource interface {
	Token() (string, bool)
}

type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	userAgent  string
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.httpClient = &http.Client{Timeout: d}
	}
}

func WithUserAgent(ua string) Option {
	return func(cl *Client) {
		cl.userAgent = ua
	}
}

func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		userAgent:  "medguard",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errNotLoggedIn = apperr.New(apperr.ErrUnauthorized, "Please log in first.")

// do sends one request. in is encoded as the JSON body when non-nil; out,
// when non-nil, receives the decoded 2xx response.
func (c *Client) do(ctx context.Context, method, path string, auth bool, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		token, ok := c.tokens.Token()
		if !ok {
			return errNotLoggedIn
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %w", method, path, apperr.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err := json.Unmarshal(raw, &eb); err != nil || eb.Error == "" {
			eb.Error = strings.TrimSpace(string(raw))
		}
		return apperr.FromResponse(resp.StatusCode, eb.Code, eb.Error)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w: %w", method, path, apperr.ErrTransport, err)
	}
	return nil
}

func (c *Client) Register(ctx context.Context, req model.RegisterRequest) (*model.AuthResponse, error) {
	var out model.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/register", false, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Login(ctx context.Context, req model.LoginRequest) (*model.AuthResponse, error) {
	var out model.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", false, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", true, nil, nil)
}

func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var out model.User
	if err := c.do(ctx, http.MethodGet, "/users/me", true, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Medications(ctx context.Context) (*model.MedicationsResponse, error) {
	var out model.MedicationsResponse
	if err := c.do(ctx, http.MethodGet, "/medications", true, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Medication(ctx context.Context, id string) (*model.Medication, error) {
	var out model.Medication
	if err := c.do(ctx, http.MethodGet, "/medications/"+url.PathEscape(id), true, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateMedication(ctx context.Context, req model.CreateMedicationRequest) (*model.Medication, error) {
	var out model.Medication
	if err := c.do(ctx, http.MethodPost, "/medications", true, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ToggleDose(ctx context.Context, id string, req model.ToggleRequest) (*model.Medication, error) {
	var out model.Medication
	path := "/medications/" + url.PathEscape(id) + "/toggle"
	if err := c.do(ctx, http.MethodPatch, path, true, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteMedication(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/medications/"+url.PathEscape(id), true, nil, nil)
}

func (c *Client) Invite(ctx context.Context, email string) (*model.Invitation, error) {
	var out model.Invitation
	if err := c.do(ctx, http.MethodPost, "/guardians/invite", true, model.InviteRequest{Email: email}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Accept(ctx context.Context, token string) (*model.Invitation, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperr.New(apperr.ErrNotFound, "Invitation not found.")
	}
	var out model.Invitation
	if err := c.do(ctx, http.MethodPost, "/guardians/accept/"+url.PathEscape(token), true, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SentInvitations lists the invitations the current user has issued.
func (c *Client) SentInvitations(ctx context.Context) ([]model.Invitation, error) {
	var out []model.Invitation
	if err := c.do(ctx, http.MethodGet, "/guardians", true, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReceivedInvitations lists the invitations addressed to the current user.
func (c *Client) ReceivedInvitations(ctx context.Context) ([]model.Invitation, error) {
	var out []model.Invitation
	if err := c.do(ctx, http.MethodGet, "/guardians/for", true, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RevokeInvitation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/guardians/"+url.PathEscape(id), true, nil, nil)
}

// FeedURL returns the websocket URL of the change feed.
func (c *Client) FeedURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", errors.New("base url must be http or https")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}
