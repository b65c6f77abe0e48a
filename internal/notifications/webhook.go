package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kjannette/stockpulse-backend/internal/httputil"
	"github.com/kjannette/stockpulse-backend/internal/logging"
)

const defaultServiceName = "StockPulse"

// Sender posts operational messages to a Slack or Discord webhook. Without
// a webhook URL messages only go to the log.
type Sender struct {
	webhookURL  string
	serviceName string
	httpClient  *http.Client
	retry       httputil.RetryConfig
	log         zerolog.Logger
}

func NewSender(webhookURL, serviceName string, logger zerolog.Logger) *Sender {
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	s := &Sender{
		webhookURL:  webhookURL,
		serviceName: serviceName,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		log:         logging.Component(logger, "notify"),
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    5 * time.Second,
		},
	}
	s.retry.Logger = &s.log
	return s
}

func (s *Sender) Send(ctx context.Context, msg string) {
	formatted := fmt.Sprintf("[%s] %s", s.serviceName, msg)
	s.log.Info().Msg(msg)

	if s.webhookURL == "" {
		return
	}

	body, err := json.Marshal(s.formatPayload(formatted))
	if err != nil {
		s.log.Error().Err(err).Msg("marshal webhook payload")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := httputil.Do(ctx, s.httpClient, s.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		s.log.Error().Err(err).Msg("webhook delivery failed after retries")
		return
	}
	resp.Body.Close()
}

// JobReport summarizes one scheduler run.
type JobReport struct {
	Job       string
	Total     int
	Succeeded int
	Failed    []string
	Duration  time.Duration
}

// JobSummary posts a one-line summary of a finished job.
func (s *Sender) JobSummary(ctx context.Context, r JobReport) {
	msg := fmt.Sprintf("%s finished: %d/%d symbols refreshed in %s",
		r.Job, r.Succeeded, r.Total, r.Duration.Round(time.Millisecond))
	if len(r.Failed) > 0 {
		msg += " | failed: " + strings.Join(r.Failed, ", ")
	}
	s.Send(ctx, msg)
}

func (s *Sender) formatPayload(msg string) map[string]string {
	if strings.Contains(s.webhookURL, "discord") {
		return map[string]string{
			"content":  msg,
			"username": s.serviceName,
		}
	}
	return map[string]string{
		"text":     fmt.Sprintf("`%s`", msg),
		"username": s.serviceName,
	}
}

func (s *Sender) Enabled() bool {
	return s.webhookURL != ""
}
