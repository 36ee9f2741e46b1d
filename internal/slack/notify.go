// Package slack posts best-effort terminal notifications for the
// cranker (§4.6 step 7). A post failure here must never fail the crank.
package slack

import (
	"strconv"

	"github.com/inconshreveable/log15"
	slackgo "github.com/slack-go/slack"
)

var logger = log15.New("pkg", "slack")

// Notifier posts to a single incoming webhook URL. A zero-value Notifier
// (empty WebhookURL) is a valid no-op notifier — matching §4.6's "if
// configured".
type Notifier struct {
	WebhookURL string
}

// Post sends message as a plain-text Slack message. Any failure is
// logged and swallowed: the caller must never treat a notification
// failure as a pipeline failure.
func (n Notifier) Post(message string) {
	if n.WebhookURL == "" {
		return
	}
	err := slackgo.PostWebhook(n.WebhookURL, &slackgo.WebhookMessage{
		Text: message,
	})
	if err != nil {
		logger.Warn("slack notification failed", "err", err)
	}
}

// PostCrankResult formats and posts the cranker's terminal outcome.
func (n Notifier) PostCrankResult(epoch uint64, ok bool, detail string) {
	status := "succeeded"
	if !ok {
		status = "failed"
	}
	n.Post("cranker " + status + " for epoch " + strconv.FormatUint(epoch, 10) + ": " + detail)
}
