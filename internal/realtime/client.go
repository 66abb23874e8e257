package realtime

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"chat-client/internal/logging"
)

const (
	defaultDialAttempts      = 3
	defaultDialRetryInterval = 500 * time.Millisecond
	defaultHandshakeTimeout  = 15 * time.Second
	defaultSendQueue         = 64
	defaultPingInterval      = 30 * time.Second
	defaultWriteWait         = 10 * time.Second
	defaultMaxFrameSize      = 1 << 20
)

type Config struct {
	URL string
	// Header is called before every dial; it supplies handshake headers
	// such as the current Authorization value.
	Header func() http.Header
	Dialer *websocket.Dialer

	DialAttempts      uint
	DialRetryInterval time.Duration

	// SendRate limits outbound frames per second. Zero disables the limit.
	SendRate  float64
	SendBurst int
	SendQueue int

	PingInterval time.Duration
	// PongWait must exceed PingInterval; it defaults to twice the interval.
	PongWait     time.Duration
	WriteWait    time.Duration
	MaxFrameSize int64

	// OnClosed runs once after an open connection has fully shut down. The
	// cause is nil for a local Close.
	OnClosed func(cause error)
}

// Client owns at most one websocket connection and a single message
// subscriber. Inbound text frames reach the subscriber in wire order;
// outbound frames are written in call order.
type Client struct {
	cfg     Config
	logger  *logging.Logger
	limiter *rate.Limiter

	mu         sync.Mutex
	state      State
	cancelDial context.CancelFunc
	dialDone   chan struct{}
	connID     string
	send       chan string
	stop       chan struct{}
	stopOnce   sync.Once
	writerDone chan struct{}
	cause      error
	pumps      sync.WaitGroup
	finished   chan struct{}

	sub         atomic.Pointer[Subscription]
	dispatching atomic.Bool
}

func New(cfg Config, logger *logging.Logger) *Client {
	if logger == nil {
		panic("realtime.New: logger must not be nil")
	}
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.Dialer == nil {
		dialer := *websocket.DefaultDialer
		dialer.HandshakeTimeout = defaultHandshakeTimeout
		cfg.Dialer = &dialer
	}
	if cfg.DialAttempts == 0 {
		cfg.DialAttempts = defaultDialAttempts
	}
	if cfg.DialRetryInterval <= 0 {
		cfg.DialRetryInterval = defaultDialRetryInterval
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = defaultSendQueue
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongWait <= cfg.PingInterval {
		cfg.PongWait = 2 * cfg.PingInterval
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = defaultMaxFrameSize
	}

	c := &Client{
		cfg:      cfg,
		logger:   logger.With(logging.Field("component", "realtime")),
		state:    Idle,
		finished: make(chan struct{}),
	}
	if cfg.SendRate > 0 {
		burst := max(cfg.SendBurst, 1)
		c.limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), burst)
	}
	return c
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectionID identifies the open connection in logs. It is empty until
// Connect succeeds.
func (c *Client) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// Done is closed once the client has reached Closed.
func (c *Client) Done() <-chan struct{} {
	return c.finished
}

// Connect opens the connection. It is a no-op while connecting or open. A
// failed dial leaves the client Idle so Connect can be called again.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Connecting, Open:
		c.mu.Unlock()
		return nil
	case Closing, Closed:
		c.mu.Unlock()
		return ErrClosed
	}
	if c.cfg.URL == "" {
		c.mu.Unlock()
		return errors.New("realtime URL is not configured")
	}
	dialCtx, cancel := context.WithCancel(ctx)
	dialDone := make(chan struct{})
	c.state = Connecting
	c.cancelDial = cancel
	c.dialDone = dialDone
	c.mu.Unlock()
	defer cancel()
	defer close(dialDone)

	c.logger.Debug("connecting realtime socket", logging.Field("url", c.cfg.URL))
	conn, err := c.dial(dialCtx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelDial = nil
	if c.state != Connecting {
		if conn != nil {
			_ = conn.Close()
		}
		return ErrClosed
	}
	if err != nil {
		c.state = Idle
		c.logger.Warn("realtime connect failed", logging.Field("url", c.cfg.URL), logging.Field("error", err))
		return err
	}

	c.state = Open
	c.connID = uuid.NewString()
	c.logger = c.logger.With(logging.Field("conn_id", c.connID))
	c.send = make(chan string, c.cfg.SendQueue)
	c.stop = make(chan struct{})
	c.writerDone = make(chan struct{})
	c.pumps.Add(2)
	go c.readPump(conn)
	go c.writePump(conn, c.writerDone)
	go c.supervise()
	c.logger.Info("realtime socket connected", logging.Field("url", c.cfg.URL))
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	var header http.Header
	if c.cfg.Header != nil {
		header = c.cfg.Header().Clone()
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = c.cfg.DialRetryInterval
	retry.Reset()

	return backoff.Retry(ctx, func() (*websocket.Conn, error) {
		conn, resp, err := c.dialOnce(ctx, header)
		if err == nil {
			return conn, nil
		}
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, backoff.Permanent(&HandshakeError{StatusCode: resp.StatusCode, Status: resp.Status})
		}
		return nil, err
	},
		backoff.WithBackOff(retry),
		backoff.WithMaxTries(c.cfg.DialAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("retrying realtime dial",
				logging.Field("error", err),
				logging.Field("next_retry", next.String()))
		}),
	)
}

// dialOnce runs one handshake and closes the underlying socket as soon as
// ctx is cancelled, so an abandoned dial never outlives Close.
func (c *Client) dialOnce(ctx context.Context, header http.Header) (*websocket.Conn, *http.Response, error) {
	dialer := *c.cfg.Dialer
	netDial := dialer.NetDialContext
	if netDial == nil {
		if plain := dialer.NetDial; plain != nil {
			netDial = func(_ context.Context, network, addr string) (net.Conn, error) {
				return plain(network, addr)
			}
		} else {
			netDial = (&net.Dialer{}).DialContext
		}
	}
	var stop func() bool
	dialer.NetDialContext = func(dialCtx context.Context, network, addr string) (net.Conn, error) {
		conn, err := netDial(dialCtx, network, addr)
		if err != nil {
			return nil, err
		}
		stop = context.AfterFunc(ctx, func() { _ = conn.Close() })
		return conn, nil
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if stop != nil && !stop() && err == nil {
		_ = conn.Close()
		return nil, resp, ctx.Err()
	}
	return conn, resp, err
}

// SendMessage queues text for the open connection. It never blocks; frames
// that cannot be queued are dropped and reported.
func (c *Client) SendMessage(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Open {
		c.logger.Warn("dropping realtime message: socket not open", logging.Field("state", c.state.String()))
		return ErrNotConnected
	}
	if c.limiter != nil && !c.limiter.Allow() {
		c.logger.Warn("dropping realtime message: send rate exceeded")
		return ErrRateLimited
	}
	select {
	case c.send <- text:
		return nil
	default:
		c.logger.Warn("dropping realtime message: send queue full", logging.Field("queued", len(c.send)))
		return ErrSendQueueFull
	}
}

// Close sends a close frame, stops the pumps, and waits for them. A Close
// that lands during Connect waits for the abandoned dial to give up. Called
// from a subscriber callback, it returns once the socket is closed; the
// client reaches Closed when the callback returns. Repeated calls wait for
// the first one to finish.
func (c *Client) Close() {
	c.mu.Lock()
	switch c.state {
	case Idle:
		c.state = Closed
		close(c.finished)
	case Connecting:
		c.state = Closed
		if c.cancelDial != nil {
			c.cancelDial()
		}
		close(c.finished)
	case Open:
		c.state = Closing
		c.stopOnce.Do(func() { close(c.stop) })
	}
	dialDone, writerDone := c.dialDone, c.writerDone
	c.mu.Unlock()

	if dialDone != nil {
		<-dialDone
	}
	if c.dispatching.Load() {
		// The reader is blocked in the callback and cannot finish yet.
		c.sub.Store(nil)
		if writerDone != nil {
			<-writerDone
		}
		return
	}
	<-c.finished
}

// fail moves an open connection to Closing and records why it ended.
func (c *Client) fail(cause error) {
	c.mu.Lock()
	if c.state == Open {
		c.state = Closing
		c.cause = cause
	}
	c.stopOnce.Do(func() { close(c.stop) })
	c.mu.Unlock()
}

func (c *Client) supervise() {
	c.pumps.Wait()

	c.mu.Lock()
	c.state = Closed
	cause := c.cause
	c.mu.Unlock()

	c.sub.Store(nil)

	if cause != nil {
		c.logger.Warn("realtime socket closed", logging.Field("error", cause))
	} else {
		c.logger.Debug("realtime socket closed")
	}
	close(c.finished)
	if c.cfg.OnClosed != nil {
		c.cfg.OnClosed(cause)
	}
}

func (c *Client) readPump(conn *websocket.Conn) {
	defer c.pumps.Done()

	conn.SetReadLimit(c.cfg.MaxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if c.State() == Closing {
				c.fail(nil)
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("realtime socket closed by peer", logging.Field("error", err))
			}
			c.fail(err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		if messageType != websocket.TextMessage {
			c.logger.Debug("ignoring non-text realtime frame", logging.Field("type", messageType))
			continue
		}
		c.deliver(string(data))
	}
}

func (c *Client) writePump(conn *websocket.Conn, done chan<- struct{}) {
	defer c.pumps.Done()
	defer close(done)
	defer conn.Close()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			deadline := time.Now().Add(c.cfg.WriteWait)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
				c.logger.Debug("realtime close frame not sent", logging.Field("error", err))
			}
			return
		case text := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
				c.fail(err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
				c.fail(err)
				return
			}
		}
	}
}
