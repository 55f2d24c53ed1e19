// Package telegram delivers content to a Telegram chat through the Bot API.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
	"golang.org/x/time/rate"

	"signalcast/internal/adapter"
	"signalcast/internal/models"
	"signalcast/pkg/logx"
)

type Config struct {
	// ChannelID is the logical channel id; defaults to "telegram".
	ChannelID string
	Token     string
	ChatID    int64
	// RatePerSec caps outgoing sends. 0 means 1/s, which stays well under
	// the Bot API per-chat limit.
	RatePerSec float64
}

type Adapter struct {
	cfg     Config
	bot     *tele.Bot
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	if cfg.ChannelID == "" {
		cfg.ChannelID = "telegram"
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	// No poller: this adapter only sends, it never consumes updates.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return &Adapter{
		cfg:     cfg,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		log:     log.With(logx.String("channel", cfg.ChannelID)),
	}, nil
}

func (a *Adapter) ChannelID() string { return a.cfg.ChannelID }

func (a *Adapter) Send(ctx context.Context, text string) (models.Receipt, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return models.Receipt{}, err
	}
	msg, err := a.bot.Send(tele.ChatID(a.cfg.ChatID), text)
	if err != nil {
		return models.Receipt{}, classify(err)
	}
	a.log.Debug("message delivered", logx.Int("message_id", msg.ID))
	return models.Receipt{
		MessageID:   strconv.Itoa(msg.ID),
		DeliveredAt: time.Now().UTC(),
	}, nil
}

// classify maps Bot API failures onto the dispatcher's retry semantics.
// Flood control carries an explicit delay; other API errors (bad token,
// kicked from chat) do not get better on retry.
func classify(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return adapter.RetryAfter(err, time.Duration(flood.RetryAfter)*time.Second)
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code >= 500 {
			return adapter.Transient(err)
		}
		return err
	}
	// Anything that is not a structured API error is a transport problem.
	return adapter.Transient(err)
}
