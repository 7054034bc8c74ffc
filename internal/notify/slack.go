package notify

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/me/gobs/internal/config"
	"github.com/me/gobs/pkg/model"
)

// DefaultSlackAPIURL is the production chat.postMessage endpoint.
const DefaultSlackAPIURL = "https://slack.com/api/chat.postMessage"

// Slack posts completion messages to a channel via the Slack Web API.
type Slack struct {
	cfg    *config.Config
	logger *slog.Logger
	client *http.Client

	// APIURL may be overridden for testing.
	APIURL string
}

// NewSlack creates a Slack notifier reading its token and channel from the
// live config.
func NewSlack(cfg *config.Config, logger *slog.Logger) *Slack {
	return &Slack{
		cfg:    cfg,
		logger: logger.With("component", "slack"),
		client: &http.Client{Timeout: 10 * time.Second},
		APIURL: DefaultSlackAPIURL,
	}
}

type slackMessage struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

type slackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Notify posts terminal events to the configured channel. Started events
// are skipped to keep the channel quiet.
func (s *Slack) Notify(job *model.Job, event model.JobEvent) {
	if event == model.EventStarted {
		return
	}
	token, channel := s.cfg.Slack()
	if token == "" || channel == "" {
		return
	}

	body, err := json.Marshal(slackMessage{Channel: channel, Text: summary(job, event)})
	if err != nil {
		s.logger.Warn("marshal slack message", "job_id", job.ID, "error", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, s.APIURL, bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("build slack request", "job_id", job.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("slack delivery failed", "job_id", job.ID, "error", err)
		return
	}
	defer resp.Body.Close()

	var sr slackResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		s.logger.Warn("decode slack response", "job_id", job.ID, "error", err)
		return
	}
	if !sr.OK {
		s.logger.Warn("slack rejected message", "job_id", job.ID, "error", sr.Error)
		return
	}
	s.logger.Info("slack message posted", "job_id", job.ID, "channel", channel, "event", event)
}
