package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	flags "github.com/jessevdk/go-flags"

	"chat-client/internal/chat"
	"chat-client/internal/client"
	"chat-client/internal/config"
	"chat-client/internal/logging"
	"chat-client/internal/runstatus"
	"chat-client/internal/runtime"
	"chat-client/internal/session"
)

var errAlreadyRunning = errors.New("chat already running")

const chatStopTimeout = 5 * time.Second

type cli struct {
	ctx    context.Context
	opts   *config.Options
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	logger   *logging.Logger
	services *runtime.Services

	authOnce sync.Once
}

func newCLI(ctx context.Context, opts *config.Options, stdin io.Reader, stdout, stderr io.Writer) *cli {
	return &cli{ctx: ctx, opts: opts, stdin: stdin, stdout: stdout, stderr: stderr}
}

func (c *cli) register(parser *flags.Parser) error {
	commands := []struct {
		name, short, long string
		data              flags.Commander
	}{
		{"chat", "Join the realtime chat", "Sends each input line and prints incoming messages until EOF or interrupt.", &chatCommand{cli: c}},
		{"request", "Send an authenticated API request", "Sends METHOD PATH with an optional JSON body and prints the response data.", &requestCommand{cli: c}},
		{"refresh", "Exchange the refresh token for a new access token", "", &refreshCommand{cli: c}},
		{"set-refresh-token", "Store a refresh token", "", &setRefreshTokenCommand{cli: c}},
		{"logout", "Forget the stored refresh token", "", &logoutCommand{cli: c}},
		{"set-email", "Remember an email address for five minutes", "", &setEmailCommand{cli: c}},
		{"email", "Print the remembered email address", "", &emailCommand{cli: c}},
		{"save-settings", "Save the current connection options as defaults", "", &saveSettingsCommand{cli: c}},
	}
	for _, cmd := range commands {
		if _, err := parser.AddCommand(cmd.name, cmd.short, cmd.long, cmd.data); err != nil {
			return err
		}
	}
	parser.CommandHandler = func(command flags.Commander, args []string) error {
		if command == nil {
			return nil
		}
		c.prepare()
		return command.Execute(args)
	}
	return nil
}

// prepare fills unset options from saved settings and builds the logger.
func (c *cli) prepare() {
	saved, err := config.LoadSettings()
	switch {
	case err == nil:
		*c.opts = config.MergeOptionsWithSettings(*c.opts, saved)
	case errors.Is(err, os.ErrNotExist):
	default:
		fmt.Fprintln(c.stderr, "ignoring saved settings:", err)
	}
	c.logger = logging.New(c.opts.Debug)
	c.logger.SetOutput(c.stderr)
}

func (c *cli) servicesOrErr() (*runtime.Services, error) {
	if c.services != nil {
		return c.services, nil
	}
	services, err := runtime.NewServices(*c.opts, c.logger, runtime.Hooks{
		OnAuthRequired: c.promptSignIn,
		OnRealtimeClosed: func(cause error) {
			if cause != nil {
				c.logger.Debug("realtime connection ended", logging.Field("error", cause))
			}
		},
	})
	if err != nil {
		return nil, err
	}
	c.services = services
	return services, nil
}

func (c *cli) promptSignIn(error) {
	c.authOnce.Do(func() {
		fmt.Fprintln(c.stderr, "Your session has expired. Please sign in again and store a new refresh token with set-refresh-token.")
	})
}

type chatCommand struct {
	cli *cli
}

func (cmd *chatCommand) Execute([]string) error {
	c := cmd.cli
	services, err := c.servicesOrErr()
	if err != nil {
		return err
	}

	lock, lockedByOther, err := acquireInstanceLock(services.Store.Path())
	if err != nil {
		return err
	}
	if lockedByOther {
		return errAlreadyRunning
	}
	defer func() {
		_ = lock.Release()
	}()

	// an access token is optional for the handshake; try to obtain one
	// quietly when a refresh token is already stored.
	_, signedIn, _ := services.Session.RefreshToken()
	if signedIn && services.API.AccessToken() == "" {
		if _, err := services.API.RenewAccessToken(c.ctx); err != nil {
			c.logger.Debug("continuing without access token", logging.Field("error", err))
		}
	}

	console := services.NewConsole(c.stdin, c.stdout, chat.Callbacks{
		OnStatusChange: func(status string) {
			c.logger.Info("chat status changed", logging.Field("status", runstatus.Key(status)))
		},
	})

	watchCtx, stopWatch := context.WithCancel(c.ctx)
	defer stopWatch()

	controller := runtime.NewController(c.ctx)
	if err := controller.Start("chat", console.RunContext, c.logger, runtime.StartHooks{
		OnExit: func(error) { stopWatch() },
	}); err != nil {
		return err
	}

	err = services.Store.Watch(watchCtx, func() {
		if _, ok, _ := services.Session.RefreshToken(); signedIn && !ok && controller.IsRunning() {
			c.logger.Warn("signed out from another process; leaving chat")
			if !controller.StopAndWait(chatStopTimeout) {
				c.logger.Warn("chat did not stop in time", logging.Field("timeout", chatStopTimeout.String()))
			}
		}
	}, func(err error) {
		c.logger.Debug("session watch error", logging.Field("error", err))
	})
	if err != nil {
		c.logger.Warn("session changes will not be noticed", logging.Field("error", err))
	}

	controller.Wait(0)
	return controller.Err()
}

type requestCommand struct {
	cli  *cli
	Args struct {
		Method string `positional-arg-name:"METHOD" required:"yes"`
		Path   string `positional-arg-name:"PATH" required:"yes"`
		Body   string `positional-arg-name:"JSON-BODY"`
	} `positional-args:"yes"`
}

func (cmd *requestCommand) Execute([]string) error {
	c := cmd.cli
	services, err := c.servicesOrErr()
	if err != nil {
		return err
	}
	req := client.Request{Method: cmd.Args.Method, URL: cmd.Args.Path}
	if body := strings.TrimSpace(cmd.Args.Body); body != "" {
		if !json.Valid([]byte(body)) {
			return errors.New("request body is not valid JSON")
		}
		req.Body = json.RawMessage(body)
	}

	resp, err := services.API.Do(c.ctx, req)
	if err != nil {
		var statusErr *client.HTTPStatusError
		if errors.As(err, &statusErr) && len(statusErr.Body) > 0 {
			fmt.Fprintln(c.stderr, logging.FormatHTTPPayload(statusErr.Body))
		}
		return err
	}
	data, err := client.Decode[json.RawMessage](resp)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		fmt.Fprintln(c.stdout, resp.Status)
		return nil
	}
	pretty, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, string(pretty))
	return nil
}

type refreshCommand struct {
	cli *cli
}

func (cmd *refreshCommand) Execute([]string) error {
	c := cmd.cli
	services, err := c.servicesOrErr()
	if err != nil {
		return err
	}
	token, err := services.API.RenewAccessToken(c.ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, "access token refreshed:", logging.Redact(token))
	return nil
}

type setRefreshTokenCommand struct {
	cli  *cli
	Args struct {
		Token string `positional-arg-name:"TOKEN" required:"yes"`
	} `positional-args:"yes"`
}

func (cmd *setRefreshTokenCommand) Execute([]string) error {
	sess, err := cmd.cli.session()
	if err != nil {
		return err
	}
	return sess.SetRefreshToken(cmd.Args.Token)
}

type logoutCommand struct {
	cli *cli
}

func (cmd *logoutCommand) Execute([]string) error {
	sess, err := cmd.cli.session()
	if err != nil {
		return err
	}
	return sess.ClearRefreshToken()
}

type setEmailCommand struct {
	cli  *cli
	Args struct {
		Email string `positional-arg-name:"EMAIL" required:"yes"`
	} `positional-args:"yes"`
}

func (cmd *setEmailCommand) Execute([]string) error {
	sess, err := cmd.cli.session()
	if err != nil {
		return err
	}
	return sess.SetEmail(cmd.Args.Email)
}

type emailCommand struct {
	cli *cli
}

func (cmd *emailCommand) Execute([]string) error {
	sess, err := cmd.cli.session()
	if err != nil {
		return err
	}
	email, ok, err := sess.Email()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("no email remembered")
	}
	fmt.Fprintln(cmd.cli.stdout, email)
	return nil
}

type saveSettingsCommand struct {
	cli *cli
}

func (cmd *saveSettingsCommand) Execute([]string) error {
	opts := *cmd.cli.opts
	if _, err := config.BuildEndpoints(opts); err != nil {
		return err
	}
	if err := config.SaveSettings(config.SettingsFromOptions(opts)); err != nil {
		return err
	}
	path, _ := config.SettingsPath()
	fmt.Fprintln(cmd.cli.stdout, "settings saved to", path)
	return nil
}

// session opens the session store without requiring API options.
func (c *cli) session() (*session.Session, error) {
	path := c.opts.SessionFile
	if path == "" {
		var err error
		path, err = config.DefaultSessionPath()
		if err != nil {
			return nil, err
		}
	}
	store, err := session.NewFileStore(path)
	if err != nil {
		return nil, err
	}
	return session.New(store), nil
}
