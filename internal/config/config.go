// Package config loads settings for the chat client and the dev server from
// the environment, after merging an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Client configures cmd/chat.
type Client struct {
	BaseURL           string
	PushURL           string
	Token             string
	TypingWindow      time.Duration
	PeerTypingTimeout time.Duration
	OptimisticSends   bool
	PageSize          int
	HistorySize       int
	RequestTimeout    time.Duration
}

// Server configures cmd/chatd.
type Server struct {
	Addr          string
	JWTSecret     string
	AllowedOrigin string
	Users         []string
}

// loadDotenv merges the given files (or ./.env) into the environment.
// Variables already set win. A missing file is not an error.
func loadDotenv(files []string) error {
	if err := godotenv.Load(files...); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("no .env file loaded", "error", err)
			return nil
		}
		return fmt.Errorf("config: load .env: %w", err)
	}
	return nil
}

// LoadClient reads the client settings.
func LoadClient(files ...string) (Client, error) {
	if err := loadDotenv(files); err != nil {
		return Client{}, err
	}
	var errs []error
	c := Client{
		BaseURL:           stringVar("CHAT_BASE_URL", "http://localhost:8080"),
		PushURL:           os.Getenv("CHAT_PUSH_URL"),
		Token:             os.Getenv("CHAT_TOKEN"),
		TypingWindow:      durationVar("CHAT_TYPING_WINDOW", 2*time.Second, &errs),
		PeerTypingTimeout: durationVar("CHAT_PEER_TYPING_TIMEOUT", 0, &errs),
		OptimisticSends:   boolVar("CHAT_OPTIMISTIC_SENDS", false, &errs),
		PageSize:          intVar("CHAT_PAGE_SIZE", 20, &errs),
		HistorySize:       intVar("CHAT_HISTORY_SIZE", 50, &errs),
		RequestTimeout:    durationVar("CHAT_REQUEST_TIMEOUT", 15*time.Second, &errs),
	}
	if len(errs) > 0 {
		return Client{}, errors.Join(errs...)
	}
	if c.PushURL == "" {
		pushURL, err := PushURLFor(c.BaseURL)
		if err != nil {
			return Client{}, err
		}
		c.PushURL = pushURL
	}
	return c, nil
}

// PushURLFor derives the websocket endpoint served next to a REST base URL.
func PushURLFor(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("config: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("config: base url %q must be http or https", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

// LoadServer reads the dev server settings.
func LoadServer(files ...string) (Server, error) {
	if err := loadDotenv(files); err != nil {
		return Server{}, err
	}
	s := Server{
		Addr:          stringVar("CHATD_ADDR", ":8080"),
		JWTSecret:     os.Getenv("CHATD_JWT_SECRET"),
		AllowedOrigin: os.Getenv("CHATD_ALLOWED_ORIGIN"),
	}
	for _, u := range strings.Split(os.Getenv("CHATD_USERS"), ",") {
		if u = strings.TrimSpace(u); u != "" {
			s.Users = append(s.Users, u)
		}
	}
	return s, nil
}

func stringVar(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationVar(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s: %w", key, err))
		return fallback
	}
	return d
}

func intVar(key string, fallback int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s: %w", key, err))
		return fallback
	}
	return n
}

func boolVar(key string, fallback bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s: %w", key, err))
		return fallback
	}
	return b
}
