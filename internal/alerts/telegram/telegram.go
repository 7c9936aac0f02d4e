// Package telegram delivers alert events to a Telegram chat via the Bot
// API. Credentials come from collector settings and are hot-swappable
// between cycles without rebuilding the sink.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"miner-sentinel/internal/alerts"
	"miner-sentinel/internal/units"
)

const defaultAPIBase = "https://api.telegram.org"

type Notifier struct {
	hc      *http.Client
	log     *zap.Logger
	apiBase string

	mu       sync.RWMutex
	enabled  bool
	botToken string
	chatID   string
}

func New(log *zap.Logger) *Notifier {
	return &Notifier{
		hc:      &http.Client{Timeout: 10 * time.Second},
		log:     log.Named("telegram"),
		apiBase: defaultAPIBase,
	}
}

// Configure applies the current settings snapshot. Disabled or incomplete
// credentials turn the sink into a no-op.
func (n *Notifier) Configure(enabled bool, botToken, chatID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	effective := enabled && botToken != "" && chatID != ""
	if effective != n.enabled {
		n.log.Info("telegram notifications toggled", zap.Bool("enabled", effective))
	}
	n.enabled = effective
	n.botToken = botToken
	n.chatID = chatID
}

func (n *Notifier) Deliver(ctx context.Context, ev alerts.Event) error {
	n.mu.RLock()
	enabled, token, chat := n.enabled, n.botToken, n.chatID
	n.mu.RUnlock()
	if !enabled {
		return nil
	}
	return n.sendMessage(ctx, token, chat, formatMessage(ev), "HTML")
}

type sendReq struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

func (n *Notifier) sendMessage(ctx context.Context, token, chat, text, parseMode string) error {
	body, err := json.Marshal(sendReq{
		ChatID:                chat,
		Text:                  text,
		ParseMode:             parseMode,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.hc.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	// HTML entities in device names or error strings can break parsing;
	// fall back to plain text once.
	if resp.StatusCode == http.StatusBadRequest && parseMode == "HTML" &&
		strings.Contains(string(respBody), "parse entities") {
		n.log.Warn("telegram rejected HTML, retrying plain", zap.ByteString("response", respBody))
		return n.sendMessage(ctx, token, chat, text, "")
	}
	return fmt.Errorf("telegram: sendMessage status %s: %s", resp.Status, respBody)
}

func formatMessage(ev alerts.Event) string {
	name := html.EscapeString(ev.DeviceName)
	id := html.EscapeString(ev.DeviceID)

	switch ev.Kind {
	case alerts.KindHashrateStagnation:
		return fmt.Sprintf(
			"🚨 <b>Mining Alert</b>\n\n"+
				"<b>Device:</b> %s (%s)\n"+
				"<b>Issue:</b> Hashrate unchanged for %d collections\n"+
				"<b>Current Hashrate:</b> %.2f GH/s\n\n"+
				"⚠️ Device may need attention",
			name, id, ev.SampleCount, ev.HashrateGHS)

	case alerts.KindBestDifficulty, alerts.KindFirstBestDifficulty:
		msg := fmt.Sprintf(
			"🎉 <b>New Best Difficulty!</b>\n\n"+
				"<b>Device:</b> %s (%s)\n"+
				"<b>New Best:</b> %s\n"+
				"<b>Previous Best:</b> %s\n",
			name, id,
			units.FormatDifficulty(ev.NewBest),
			units.FormatDifficulty(ev.PreviousBest))
		if ev.PreviousBest > 0 {
			improvement := (ev.NewBest - ev.PreviousBest) / ev.PreviousBest * 100
			if improvement > 0 {
				msg += fmt.Sprintf("<b>Improvement:</b> +%.1f%%\n", improvement)
			}
		}
		return msg + "\n🔥 Keep it up!"

	case alerts.KindDeviceOffline:
		msg := fmt.Sprintf(
			"🔴 <b>Device Offline Alert</b>\n\n"+
				"<b>Device:</b> %s (%s)\n"+
				"<b>Status:</b> Unable to connect\n"+
				"<b>Last Seen:</b> %s\n",
			name, id, html.EscapeString(formatLastSeen(ev.LastSeen)))
		if ev.ErrorMessage != "" {
			msg += fmt.Sprintf("<b>Error:</b> %s\n", html.EscapeString(ev.ErrorMessage))
		}
		return msg + "\n⚠️ Please check device connectivity"

	case alerts.KindDeviceOnline:
		return fmt.Sprintf(
			"🟢 <b>Device Back Online</b>\n\n"+
				"<b>Device:</b> %s (%s)\n"+
				"<b>Status:</b> Connection restored\n"+
				"<b>Offline Duration:</b> %s\n\n"+
				"✅ Device is collecting data again",
			name, id, units.FormatDurationShort(int64(ev.OfflineFor.Seconds())))

	case alerts.KindDeviceRestarted:
		return fmt.Sprintf(
			"🔄 <b>Device Restart</b>\n\n"+
				"<b>Device:</b> %s (%s)\n"+
				"<b>Reason:</b> Hashrate stagnation detected\n"+
				"<b>Action:</b> Automatic restart initiated\n\n"+
				"⚡ Device should resume normal operation shortly",
			name, id)
	}
	return fmt.Sprintf("⚠️ <b>%s</b>\n\n<b>Device:</b> %s (%s)", ev.Kind, name, id)
}

func formatLastSeen(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format("2006-01-02 15:04:05 MST")
}
