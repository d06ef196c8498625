package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification describes a saturated accrual worth paging about.
type Notification struct {
	AssetKey    string
	Bucket      time.Time
	Utilization decimal.Decimal
	Rcomp       decimal.Decimal
	ElapsedSecs int64
	Channels    []string
	Message     string
}

// Notifier delivers overflow notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// WebhookNotifier POSTs the notification as JSON to a configured endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookNotifier constructs a webhook notifier.
func NewWebhookNotifier(url string, timeout time.Duration, logger zerolog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "alert_webhook").Logger(),
	}
}

// Notify delivers the notification, treating any non-2xx status as failure.
func (n *WebhookNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]any{
		"asset":        note.AssetKey,
		"bucket":       note.Bucket.UTC().Format(time.RFC3339),
		"utilization":  note.Utilization.String(),
		"rcomp":        note.Rcomp.String(),
		"elapsed_secs": note.ElapsedSecs,
		"message":      renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.logger.Info().Str("asset", note.AssetKey).Time("bucket", note.Bucket).Msg("overflow alert sent (webhook)")
	return nil
}

// TelegramNotifier pushes the notification through the Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls the sendMessage API with the rendered text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("asset", note.AssetKey).Time("bucket", note.Bucket).Msg("overflow alert sent (telegram)")
	return nil
}

// Fanout delivers to every configured notifier and reports the first failure.
type Fanout []Notifier

// Notify dispatches to each channel in order.
func (f Fanout) Notify(ctx context.Context, note Notification) error {
	var firstErr error
	for _, n := range f {
		if err := n.Notify(ctx, note); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[RateKeeper Overflow]\n")
	builder.WriteString(fmt.Sprintf("Asset: %s\n", note.AssetKey))
	builder.WriteString(fmt.Sprintf("Bucket: %s UTC\n", note.Bucket.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Utilization: %s\n", note.Utilization.String()))
	builder.WriteString(fmt.Sprintf("Rcomp: %s (saturated)\n", note.Rcomp.String()))
	builder.WriteString(fmt.Sprintf("Window: %ds\n", note.ElapsedSecs))
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.Message != "" {
		builder.WriteString(note.Message)
	}
	return builder.String()
}

var (
	_ Notifier = (*WebhookNotifier)(nil)
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (Fanout)(nil)
)
