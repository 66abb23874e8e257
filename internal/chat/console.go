package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"chat-client/internal/logging"
	"chat-client/internal/realtime"
	"chat-client/internal/runctx"
	"chat-client/internal/runstatus"
)

// TokenRenewer refreshes the credential sent with the realtime handshake.
type TokenRenewer interface {
	RenewAccessToken(ctx context.Context) (string, error)
}

type Callbacks struct {
	OnStatusChange func(string)
}

// Console is a line-oriented chat front end: each input line is sent on the
// shared realtime connection and every inbound frame is printed.
type Console struct {
	registry *realtime.Registry
	renewer  TokenRenewer
	logger   *logging.Logger
	in       io.Reader
	hooks    Callbacks

	outMu sync.Mutex
	out   io.Writer

	status statusState
}

func New(registry *realtime.Registry, renewer TokenRenewer, in io.Reader, out io.Writer, logger *logging.Logger, hooks Callbacks) *Console {
	if registry == nil {
		panic("chat.New: registry must not be nil")
	}
	if logger == nil {
		panic("chat.New: logger must not be nil")
	}
	return &Console{
		registry: registry,
		renewer:  renewer,
		logger:   logger.With(logging.Field("component", "chat")),
		in:       in,
		out:      out,
		hooks:    hooks,
	}
}

// RunContext connects, then relays lines until input ends, ctx is done, or
// the connection drops. The realtime instance is released on return.
func (c *Console) RunContext(ctx context.Context) error {
	defer c.registry.Remove()

	conn := c.registry.Instance()
	sub := conn.OnMessage(func(text string) {
		c.printf("peer: %s\n", text)
	})
	defer sub.Unsubscribe()

	c.setStatus(runstatus.Connecting)
	if err := c.connect(ctx, conn); err != nil {
		if !errors.Is(err, ErrAuthRequired) {
			c.setStatus(runstatus.Disconnected)
		}
		return err
	}
	c.setStatus(runstatus.Connected)
	c.logger.Debug("chat session started", logging.Field("conn_id", conn.ConnectionID()))

	runCtx, cancel := runctx.CancelOnDone(ctx, conn.Done())
	defer cancel()

	lines := make(chan string)
	go c.readLines(runCtx, lines)

	for {
		line, ok := runctx.RecvOrDone(runCtx, "chat input", c.logger, lines)
		if !ok {
			break
		}
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		if err := conn.SendMessage(text); err != nil {
			c.logger.Warn("message not sent", logging.Field("error", err))
			continue
		}
		c.printf("me: %s\n", text)
	}

	c.setStatus(runstatus.Disconnected)
	if ctx.Err() != nil {
		return nil
	}
	if errors.Is(context.Cause(runCtx), runctx.ErrSourceClosed) {
		return ErrConnectionLost
	}
	return nil
}

// connect retries once with a renewed access token when the handshake is
// refused for credentials.
func (c *Console) connect(ctx context.Context, conn *realtime.Client) error {
	err := conn.Connect(ctx)
	if !realtime.IsUnauthorized(err) || c.renewer == nil {
		return err
	}

	c.setStatus(runstatus.Reauthenticating)
	if _, renewErr := c.renewer.RenewAccessToken(ctx); renewErr != nil {
		c.setStatus(runstatus.DisconnectedAuth)
		return fmt.Errorf("%w: %w", ErrAuthRequired, renewErr)
	}
	return conn.Connect(ctx)
}

func (c *Console) readLines(ctx context.Context, lines chan<- string) {
	defer close(lines)
	if c.in == nil {
		return
	}
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		if !runctx.SendOrDone(ctx, "chat input reader", c.logger, lines, scanner.Text()) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn("chat input failed", logging.Field("error", err))
	}
}

func (c *Console) printf(format string, args ...any) {
	if c.out == nil {
		return
	}
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

type statusState struct {
	mu      sync.Mutex
	current string
}

func (s *statusState) update(status string) (string, string, bool) {
	trimmed := strings.TrimSpace(status)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == trimmed {
		return s.current, trimmed, false
	}
	previous := s.current
	s.current = trimmed
	return previous, trimmed, true
}

func (c *Console) setStatus(status string) {
	previous, next, changed := c.status.update(status)
	if !changed {
		return
	}
	c.logger.Debug("chat status transition",
		logging.Field("from", previous),
		logging.Field("to", next),
	)
	if c.hooks.OnStatusChange != nil {
		c.hooks.OnStatusChange(next)
	}
}
