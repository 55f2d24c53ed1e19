// Package webhook delivers content to a generic HTTP endpoint as a JSON
// POST. Any system that can accept a webhook becomes a distribution
// channel without a dedicated adapter.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"signalcast/internal/adapter"
	"signalcast/internal/models"
	"signalcast/pkg/logx"
)

type Config struct {
	ChannelID  string
	URL        string
	Timeout    time.Duration
	RatePerSec float64
}

type Adapter struct {
	cfg     Config
	client  *resty.Client
	limiter *rate.Limiter
	log     logx.Logger
}

// payload is the body posted to the endpoint.
type payload struct {
	ChannelID string    `json:"channel_id"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at"`
}

// response is the optional body an endpoint may answer with. A missing
// or unparseable body is fine; the receipt then has no message id.
type response struct {
	MessageID string `json:"message_id"`
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.ChannelID) == "" {
		return nil, errors.New("webhook channel_id is empty")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("webhook url is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	return &Adapter{
		cfg:     cfg,
		client:  resty.New().SetTimeout(timeout),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		log:     log.With(logx.String("channel", cfg.ChannelID)),
	}, nil
}

func (a *Adapter) ChannelID() string { return a.cfg.ChannelID }

func (a *Adapter) Send(ctx context.Context, text string) (models.Receipt, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return models.Receipt{}, err
	}
	now := time.Now().UTC()
	var out response
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload{ChannelID: a.cfg.ChannelID, Text: text, SentAt: now}).
		SetResult(&out).
		Post(a.cfg.URL)
	if err != nil {
		// Transport-level failure: connect refused, DNS, timeout.
		return models.Receipt{}, adapter.Transient(err)
	}

	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		a.log.Debug("webhook delivered", logx.Int("status", code))
		return models.Receipt{MessageID: out.MessageID, DeliveredAt: now}, nil
	case code == 429:
		err := fmt.Errorf("webhook returned status %d", code)
		return models.Receipt{}, adapter.RetryAfter(err, retryAfterHeader(resp))
	case code >= 500:
		return models.Receipt{}, adapter.Transient(fmt.Errorf("webhook returned status %d", code))
	default:
		return models.Receipt{}, fmt.Errorf("webhook returned status %d: %s", code, strings.TrimSpace(string(resp.Body())))
	}
}

// retryAfterHeader reads a delay-seconds Retry-After value. HTTP-date
// form and missing headers fall back to zero, letting the dispatcher
// use its own backoff.
func retryAfterHeader(resp *resty.Response) time.Duration {
	v := strings.TrimSpace(resp.Header().Get("Retry-After"))
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
