package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	apperrors "github.com/lingoloop/viability/internal/errors"
	"github.com/lingoloop/viability/internal/retry"
)

// SlackAPI is the minimal Slack API surface the notifier needs.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts cancellation and warning events to Slack channels.
type SlackNotifier struct {
	api         SlackAPI
	cancChannel string
	warnChannel string
	retryCfg    retry.Config
	logger      zerolog.Logger
}

// NewSlackNotifier creates a Slack-backed notifier.
func NewSlackNotifier(api SlackAPI, cancChannel, warnChannel string, retryCfg retry.Config, logger zerolog.Logger) *SlackNotifier {
	return &SlackNotifier{
		api:         api,
		cancChannel: cancChannel,
		warnChannel: warnChannel,
		retryCfg:    retryCfg,
		logger:      logger.With().Str("component", "notify.slack").Logger(),
	}
}

// SessionCancelled posts a cancellation event.
func (n *SlackNotifier) SessionCancelled(ctx context.Context, ev CancellationEvent) error {
	scope := ev.Language
	if ev.Country != "" {
		scope += "/" + ev.Country
	}
	if ev.Region != "" {
		scope += "/" + ev.Region
	}

	text := fmt.Sprintf(":no_entry: Session `%s` (%s) cancelled: %s", ev.SessionID, scope, ev.Reason)
	if len(ev.Recipients) > 0 {
		text += "\nNotify: " + strings.Join(ev.Recipients, ", ")
	}
	return n.post(ctx, "cancellation", ev.SessionID, n.cancChannel, text)
}

// LowEnrollmentWarning posts a warning event.
func (n *SlackNotifier) LowEnrollmentWarning(ctx context.Context, ev WarningEvent) error {
	text := fmt.Sprintf(":warning: Session `%s` has %d of %d required participants and the decision deadline has passed. Instructor: %s",
		ev.SessionID, ev.Current, ev.Required, ev.InstructorID)
	return n.post(ctx, "warning", ev.SessionID, n.warnChannel, text)
}

func (n *SlackNotifier) post(ctx context.Context, kind, sessionID, channel, text string) error {
	err := retry.Do(ctx, n.retryCfg, func(ctx context.Context) error {
		_, _, err := n.api.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false))
		if err != nil {
			return &apperrors.NotifyError{Kind: kind, SessionID: sessionID, Err: err}
		}
		return nil
	})
	if err != nil {
		n.logger.Error().Err(err).
			Str("kind", kind).
			Str("session_id", sessionID).
			Str("channel", channel).
			Msg("notification delivery failed")
		return err
	}

	n.logger.Info().
		Str("kind", kind).
		Str("session_id", sessionID).
		Str("channel", channel).
		Msg("notification sent")
	return nil
}
