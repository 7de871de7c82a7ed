package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Config describes a Slack-compatible incoming webhook.
type Config struct {
	WebhookURL string
	Username   string
	IconEmoji  string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// Notifier posts cycle events to a chat webhook. With no URL configured
// every send is a successful noop, so callers never need to branch.
type Notifier struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

func NewNotifier(cfg Config, logger *zap.Logger) *Notifier {
	if cfg.Username == "" {
		cfg.Username = "GC Bot"
	}
	if cfg.IconEmoji == "" {
		cfg.IconEmoji = ":robot_face:"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

func (n *Notifier) Send(ctx context.Context, text string) error {
	if n.cfg.WebhookURL == "" {
		n.logger.Debug("webhook url not set, skipping notification")
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"username":   n.cfg.Username,
		"icon_emoji": n.cfg.IconEmoji,
		"text":       text,
	})
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < n.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := n.cfg.Backoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		lastErr = n.post(ctx, payload)
		if lastErr == nil {
			return nil
		}
		n.logger.Warn("webhook send failed", zap.Int("attempt", attempt+1), zap.Error(lastErr))
	}
	return lastErr
}

func (n *Notifier) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// NotifyCross announces a fresh golden cross.
func (n *Notifier) NotifyCross(ctx context.Context, symbol string, barTS time.Time, price, shortSMA, longSMA float64) error {
	return n.Send(ctx, fmt.Sprintf(":chart_with_upwards_trend: golden cross %s @ %s price=%.4f sma_short=%.4f sma_long=%.4f",
		symbol, barTS.Format(time.RFC3339), price, shortSMA, longSMA))
}

// NotifyEntry announces an opened position.
func (n *Notifier) NotifyEntry(ctx context.Context, symbol string, price, qty, tp, sl float64) error {
	return n.Send(ctx, fmt.Sprintf(":inbox_tray: opened %s price=%.4f qty=%.6f tp=%.4f sl=%.4f",
		symbol, price, qty, tp, sl))
}

// NotifyClose announces a closed position.
func (n *Notifier) NotifyClose(ctx context.Context, symbol, reason string, price, qty, pnl, pnlCum float64) error {
	return n.Send(ctx, fmt.Sprintf(":outbox_tray: closed %s (%s) price=%.4f qty=%.6f pnl=%.2f pnl_cum=%.2f",
		symbol, reason, price, qty, pnl, pnlCum))
}

// NotifyError reports a failed cycle stage.
func (n *Notifier) NotifyError(ctx context.Context, stage, detail string) error {
	return n.Send(ctx, fmt.Sprintf(":rotating_light: %s failed: %s", stage, detail))
}
