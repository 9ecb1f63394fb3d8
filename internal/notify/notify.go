// Package notify pushes probe failures to a Telegram chat. It only sends;
// it never polls for updates.
package notify

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

type Config struct {
	Token  string
	ChatID int64

	// MinGap throttles notifications so a flapping probe doesn't spam the
	// chat. Zero sends every failure.
	MinGap time.Duration
}

type Notifier struct {
	log     *slog.Logger
	bot     *tele.Bot
	chat    tele.ChatID
	limiter *rate.Limiter
}

func New(cfg Config, log *slog.Logger) (*Notifier, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("notify: token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("notify: chat_id is required")
	}
	if log == nil {
		log = slog.Default()
	}
	bot, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.MinGap > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.MinGap), 1)
	}
	return &Notifier{log: log, bot: bot, chat: tele.ChatID(cfg.ChatID), limiter: limiter}, nil
}

// ProbeFailed sends a failure message, subject to the MinGap throttle.
// Errors are logged, not returned; notification is best-effort.
func (n *Notifier) ProbeFailed(probe string, failure error) {
	if n == nil {
		return
	}
	if n.limiter != nil && !n.limiter.Allow() {
		n.log.Debug("notification suppressed (throttled)", slog.String("probe", probe))
		return
	}
	msg := fmt.Sprintf("probe %s failed: %v", probe, failure)
	if _, err := n.bot.Send(n.chat, msg); err != nil {
		n.log.Warn("failed to send notification",
			slog.String("probe", probe),
			slog.String("err", err.Error()),
		)
	}
}
