package runtime

import (
	"io"
	"net/http"
	"time"

	"chat-client/internal/chat"
	"chat-client/internal/client"
	"chat-client/internal/config"
	"chat-client/internal/logging"
	"chat-client/internal/realtime"
	"chat-client/internal/session"
)

const defaultHTTPTimeout = 10 * time.Second

// Services wires the API client, the session store, and the realtime
// registry from one set of options.
type Services struct {
	Endpoints config.APIEndpoints
	Store     *session.FileStore
	Session   *session.Session
	API       *client.Client
	Realtime  *realtime.Registry

	logger *logging.Logger
}

type Hooks struct {
	OnAuthRequired   func(error)
	OnRealtimeClosed func(error)
}

func NewServices(opts config.Options, logger *logging.Logger, hooks Hooks) (*Services, error) {
	if logger == nil {
		panic("runtime.NewServices: logger must not be nil")
	}
	if err := config.ValidateRequired(opts); err != nil {
		return nil, err
	}

	endpoints, err := config.BuildEndpoints(opts)
	if err != nil {
		return nil, err
	}
	logger.Debug("constructed API endpoints",
		logging.Field("base_url", endpoints.BaseURL),
		logging.Field("refresh_token_url", endpoints.RefreshTokenURL),
		logging.Field("realtime_url", endpoints.RealtimeURL),
	)

	sessionPath := opts.SessionFile
	if sessionPath == "" {
		sessionPath, err = config.DefaultSessionPath()
		if err != nil {
			return nil, err
		}
	}
	store, err := session.NewFileStore(sessionPath)
	if err != nil {
		return nil, err
	}
	sess := session.New(store)

	timeout := opts.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	api := client.New(&http.Client{Timeout: timeout}, endpoints, sess, logger,
		client.WithAuthScheme(opts.AuthScheme),
		client.WithAuthRequiredHandler(hooks.OnAuthRequired),
	)

	registry := realtime.NewRegistry(func() *realtime.Client {
		return realtime.New(realtime.Config{
			URL:       endpoints.RealtimeURL,
			Header:    api.AuthHeader,
			SendRate:  opts.SendRate,
			SendBurst: opts.SendBurst,
			OnClosed:  hooks.OnRealtimeClosed,
		}, logger)
	})

	return &Services{
		Endpoints: endpoints,
		Store:     store,
		Session:   sess,
		API:       api,
		Realtime:  registry,
		logger:    logger,
	}, nil
}

func (s *Services) NewConsole(in io.Reader, out io.Writer, hooks chat.Callbacks) *chat.Console {
	return chat.New(s.Realtime, s.API, in, out, s.logger, hooks)
}
