// Package slack delivers content to a Slack channel through the Web API.
package slack

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"signalcast/internal/adapter"
	"signalcast/internal/models"
	"signalcast/pkg/logx"
)

type Config struct {
	// ChannelID is the logical channel id; defaults to "slack".
	ChannelID string
	Token     string
	// Channel is the Slack channel to post to ("#releases" or a channel id).
	Channel    string
	RatePerSec float64
}

type Adapter struct {
	cfg     Config
	api     *slack.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("slack token is empty")
	}
	if strings.TrimSpace(cfg.Channel) == "" {
		return nil, errors.New("slack channel is empty")
	}
	if cfg.ChannelID == "" {
		cfg.ChannelID = "slack"
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	return &Adapter{
		cfg:     cfg,
		api:     slack.New(cfg.Token),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		log:     log.With(logx.String("channel", cfg.ChannelID)),
	}, nil
}

func (a *Adapter) ChannelID() string { return a.cfg.ChannelID }

func (a *Adapter) Send(ctx context.Context, text string) (models.Receipt, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return models.Receipt{}, err
	}
	_, ts, err := a.api.PostMessageContext(ctx, a.cfg.Channel,
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		return models.Receipt{}, classify(err)
	}
	a.log.Debug("message delivered", logx.String("ts", ts))
	return models.Receipt{
		MessageID:   ts,
		DeliveredAt: time.Now().UTC(),
	}, nil
}

// classify maps Web API failures onto the dispatcher's retry semantics.
// Slack reports rate limiting with an explicit Retry-After. API string
// errors (channel_not_found, invalid_auth) are permanent; transport
// failures surface as *url.Error and are worth retrying.
func classify(err error) error {
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		return adapter.RetryAfter(err, rl.RetryAfter)
	}
	var sce slack.StatusCodeError
	if errors.As(err, &sce) {
		if sce.Code >= 500 {
			return adapter.Transient(err)
		}
		return err
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return adapter.Transient(err)
	}
	return err
}
