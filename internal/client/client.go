package client

import (
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"chat-client/internal/config"
	"chat-client/internal/logging"
	"chat-client/internal/session"
)

const maxResponseBytes = 4 << 20

// Client is the authenticated API client. It owns the current access token;
// the refresh token lives in the session store.
type Client struct {
	http       *http.Client
	endpoints  config.APIEndpoints
	session    *session.Session
	logger     *logging.Logger
	authScheme string
	onAuthReq  func(error)

	mu          sync.RWMutex
	accessToken string

	refreshGroup singleflight.Group
}

type Option func(*Client)

// WithAuthScheme prefixes the Authorization value, e.g. "Bearer".
func WithAuthScheme(scheme string) Option {
	return func(c *Client) { c.authScheme = strings.TrimSpace(scheme) }
}

// WithAuthRequiredHandler is called when a refresh cannot produce a new
// access token. The UI should prompt and send the user back to sign-in.
func WithAuthRequiredHandler(fn func(error)) Option {
	return func(c *Client) { c.onAuthReq = fn }
}

func New(httpClient *http.Client, endpoints config.APIEndpoints, sess *session.Session, logger *logging.Logger, opts ...Option) *Client {
	if logger == nil {
		panic("client.New: logger must not be nil")
	}
	if sess == nil {
		panic("client.New: session must not be nil")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{http: httpClient, endpoints: endpoints, session: sess, logger: logger.With(logging.Field("component", "api"))}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken installs the token sent with every later request.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.accessToken = strings.TrimSpace(token)
	c.mu.Unlock()
}

// AuthHeader returns the Authorization header for the current access token,
// for transports that authenticate outside Do (the realtime handshake).
func (c *Client) AuthHeader() http.Header {
	header := http.Header{}
	if token := c.AccessToken(); token != "" {
		header.Set("Authorization", c.authValue(token))
	}
	return header
}

// SetEmail keeps the email for a short while for follow-up forms.
func (c *Client) SetEmail(email string) error {
	return c.session.SetEmail(email)
}

func (c *Client) Email() (string, bool, error) {
	return c.session.Email()
}

func (c *Client) authValue(token string) string {
	if c.authScheme == "" {
		return token
	}
	return c.authScheme + " " + token
}

func (c *Client) authRequired(reason error) {
	c.logger.Warn("authentication required", logging.Field("reason", reason))
	if c.onAuthReq != nil {
		c.onAuthReq(reason)
	}
}
