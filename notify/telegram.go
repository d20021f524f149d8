package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned while the Telegram breaker rejects calls.
var ErrCircuitOpen = gobreaker.ErrOpenState

// TelegramConfig configures the Telegram Bot API notifier.
type TelegramConfig struct {
	BotToken string        `yaml:"bot_token"`
	ChatID   string        `yaml:"chat_id"`
	APIURL   string        `yaml:"api_url"`
	Timeout  time.Duration `yaml:"timeout"`

	// Breaker trips after MinRequests calls with at least FailureRatio failing
	// and stays open for OpenTimeout.
	MinRequests  uint32        `yaml:"min_requests"`
	FailureRatio float64       `yaml:"failure_ratio"`
	OpenTimeout  time.Duration `yaml:"open_timeout"`
}

func (c TelegramConfig) withDefaults() TelegramConfig {
	if c.APIURL == "" {
		c.APIURL = "https://api.telegram.org"
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MinRequests == 0 {
		c.MinRequests = 5
	}
	if c.FailureRatio <= 0 {
		c.FailureRatio = 0.5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	return c
}

type telegramRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// Telegram posts messages to a chat through the Bot API sendMessage method.
type Telegram struct {
	cfg     TelegramConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *zap.Logger
}

// NewTelegram returns a Telegram notifier guarded by a circuit breaker.
func NewTelegram(cfg TelegramConfig, client *http.Client, logger *zap.Logger) (*Telegram, error) {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return nil, errors.New("telegram notifier requires bot token and chat id")
	}
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	settings := gobreaker.Settings{
		Name:        "telegram",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Telegram{
		cfg:     cfg,
		client:  client,
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
		logger:  logger,
	}, nil
}

// Notify sends msg to the configured chat.
func (t *Telegram) Notify(ctx context.Context, msg Message) error {
	_, err := t.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, t.send(ctx, formatTelegram(msg))
	})
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// State reports the breaker state.
func (t *Telegram) State() gobreaker.State {
	return t.breaker.State()
}

func (t *Telegram) send(ctx context.Context, text string) error {
	body, err := json.Marshal(telegramRequest{ChatID: t.cfg.ChatID, Text: text, ParseMode: "HTML"})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.APIURL, t.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var out telegramResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if !out.OK {
		return fmt.Errorf("api error %d: %s", out.ErrorCode, out.Description)
	}
	return nil
}

func formatTelegram(msg Message) string {
	var b strings.Builder
	switch msg.Kind {
	case KindAccountRegistered:
		b.WriteString("<b>New account registered</b>\n\n")
		fmt.Fprintf(&b, "Name: %s\n", html.EscapeString(msg.Name))
		fmt.Fprintf(&b, "Email: %s\n", html.EscapeString(msg.Email))
		if msg.SourceAddr != "" {
			fmt.Fprintf(&b, "IP: <code>%s</code>\n", html.EscapeString(msg.SourceAddr))
		}
	case KindAccountLocked:
		b.WriteString("<b>Account locked</b>\n\n")
		fmt.Fprintf(&b, "Email: %s\n", html.EscapeString(msg.Email))
		fmt.Fprintf(&b, "Lock count: %d\n", msg.LockCount)
		if msg.Permanent {
			b.WriteString("Duration: permanent\n")
		} else if msg.LockedUntil != nil {
			fmt.Fprintf(&b, "Until: %s\n", msg.LockedUntil.UTC().Format(time.RFC3339))
		}
	default:
		fmt.Fprintf(&b, "<b>%s</b>\n\nEmail: %s\n", html.EscapeString(string(msg.Kind)), html.EscapeString(msg.Email))
	}
	if !msg.At.IsZero() {
		fmt.Fprintf(&b, "At: %s", msg.At.UTC().Format(time.RFC3339))
	}
	return strings.TrimRight(b.String(), "\n")
}
