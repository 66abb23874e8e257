package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

type Options struct {
	APIHost     string        `long:"api-host" env:"CHAT_API_HOST" description:"API host with scheme (e.g. https://api.example.com)"`
	APIPort     int           `long:"api-port" env:"CHAT_API_PORT" description:"API port; omit to use the scheme default"`
	APIPrefix   string        `long:"api-prefix" env:"CHAT_API_PREFIX" description:"Global API path prefix (e.g. api/v1)"`
	RealtimeURL string        `long:"realtime-url" env:"CHAT_REALTIME_URL" description:"WebSocket endpoint for chat (ws:// or wss://)"`
	SessionFile string        `long:"session-file" env:"CHAT_SESSION_FILE" description:"Session store file (defaults to the user config directory)"`
	AuthScheme  string        `long:"auth-scheme" env:"CHAT_AUTH_SCHEME" description:"Authorization header scheme; empty sends the bare access token"`
	HTTPTimeout time.Duration `long:"http-timeout" env:"CHAT_HTTP_TIMEOUT" default:"10s" description:"Timeout for each HTTP request"`
	SendRate    float64       `long:"send-rate" env:"CHAT_SEND_RATE" description:"Max outbound chat messages per second (0 disables the limit)"`
	SendBurst   int           `long:"send-burst" env:"CHAT_SEND_BURST" default:"5" description:"Outbound chat message burst size"`
	Debug       bool          `long:"debug" env:"CHAT_DEBUG" description:"Enable verbose debug output"`
}

type APIEndpoints struct {
	BaseURL         string
	RefreshTokenURL string
	RealtimeURL     string
}

const refreshTokenPath = "/auth/refresh-token"

// NewParser loads .env into the environment and returns a parser bound to
// opts. Commands are registered by the caller, which also prints errors.
func NewParser(opts *Options) *flags.Parser {
	_ = godotenv.Load()
	return flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
}

func ValidateRequired(opts Options) error {
	if strings.TrimSpace(opts.APIHost) == "" {
		return errors.New("API host is required")
	}
	if opts.APIPort < 0 || opts.APIPort > 65535 {
		return fmt.Errorf("API port %d out of range", opts.APIPort)
	}
	return nil
}

func BuildEndpoints(opts Options) (APIEndpoints, error) {
	baseURL, err := buildAPIBaseURL(opts.APIHost, opts.APIPort, opts.APIPrefix)
	if err != nil {
		return APIEndpoints{}, err
	}
	realtimeURL, err := normalizeRealtimeURL(opts.RealtimeURL)
	if err != nil {
		return APIEndpoints{}, err
	}
	return APIEndpoints{
		BaseURL:         baseURL,
		RefreshTokenURL: baseURL + refreshTokenPath,
		RealtimeURL:     realtimeURL,
	}, nil
}

func buildAPIBaseURL(rawHost string, port int, prefix string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawHost))
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", errors.New("expected absolute API host like https://example.com")
	}
	if !strings.EqualFold(parsed.Scheme, "http") && !strings.EqualFold(parsed.Scheme, "https") {
		return "", errors.New("API host scheme must be http or https")
	}
	if port > 0 {
		parsed.Host = net.JoinHostPort(parsed.Hostname(), strconv.Itoa(port))
	}

	parsed.Path = ""
	if trimmed := strings.Trim(strings.TrimSpace(prefix), "/"); trimmed != "" {
		parsed.Path = "/" + trimmed
	}
	parsed.RawPath = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""

	return strings.TrimRight(parsed.String(), "/"), nil
}

// An empty realtime URL is allowed; only the chat command needs one.
func normalizeRealtimeURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", nil
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(parsed.Scheme) {
	case "ws", "wss":
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return "", errors.New("realtime URL scheme must be ws or wss")
	}
	if parsed.Host == "" {
		return "", errors.New("expected absolute realtime URL like wss://example.com/chat")
	}
	parsed.Fragment = ""
	return parsed.String(), nil
}
