package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"time"
)

const defaultAPIURL = "https://api.postmarkapp.com/email"

// ErrNotConfigured is returned when sending without a server token.
var ErrNotConfigured = errors.New("email client not configured: missing server token")

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	apiURL      string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithAPIURL points the client at a different Postmark endpoint.
func WithAPIURL(u string) Option {
	return func(cl *Client) {
		cl.apiURL = u
	}
}

// NewClient returns a Postmark client. baseURL is the web app origin used
// to build invitation links.
func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		apiURL:      defaultAPIURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// InviteLink is the page an invitee opens to accept token.
func (c *Client) InviteLink(token string) string {
	return fmt.Sprintf("%s/guardians/accept/%s", c.baseURL, url.PathEscape(token))
}

// SendInvitation asks toEmail to become a guardian of inviterName.
func (c *Client) SendInvitation(ctx context.Context, toEmail, inviterName, token string, expiresAt time.Time) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	link := c.InviteLink(token)
	expires := expiresAt.UTC().Format("Jan 2, 2006 15:04 MST")
	subject := fmt.Sprintf("%s invited you to be their MedGuard guardian", inviterName)
	textBody := fmt.Sprintf(
		"%s would like you to help keep track of their medications.\n\nAccept the invitation:\n\n%s\n\nThis link expires %s.",
		inviterName, link, expires,
	)
	htmlBody := fmt.Sprintf(
		`<p>%s would like you to help keep track of their medications.</p><p><a href="%s">Accept the invitation</a></p><p>This link expires %s.</p>`,
		html.EscapeString(inviterName), html.EscapeString(link), expires,
	)

	return c.send(ctx, postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
	})
}

func (c *Client) send(ctx context.Context, payload postmarkEmail) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
