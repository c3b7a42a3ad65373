// Package handlers – Slack Events API endpoint.
//
// Slack expects an acknowledgement within 3 seconds and retries the delivery
// otherwise. The handler therefore answers immediately and hands reaction
// events to the pipeline on a detached context; the dedup gate absorbs the
// retries that still arrive.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-calendar-bot/internal/http/middleware"
	"github.com/tbourn/go-calendar-bot/internal/services"
)

// ReactionHandler processes one reaction_added event end to end.
type ReactionHandler interface {
	HandleReactionAdded(ctx context.Context, ev services.ReactionEvent)
}

// SlackEventsHandler terminates the Slack Events API subscription.
type SlackEventsHandler struct {
	Reactions ReactionHandler

	// DispatchTimeout bounds one background pipeline run. Zero means 60s.
	DispatchTimeout time.Duration

	// dispatch is a seam so tests can run the pipeline synchronously.
	dispatch func(fn func())
}

// slackEventEnvelope is the outer Events API payload.
type slackEventEnvelope struct {
	Type      string          `json:"type"`
	Challenge string          `json:"challenge"`
	Event     slackInnerEvent `json:"event"`
}

// slackInnerEvent is the wrapped event; only reaction_added fields are bound.
type slackInnerEvent struct {
	Type     string `json:"type"`
	Reaction string `json:"reaction"`
	User     string `json:"user"`
	Item     struct {
		Type    string `json:"type"`
		Channel string `json:"channel"`
		TS      string `json:"ts"`
	} `json:"item"`
}

const defaultDispatchTimeout = 60 * time.Second

// Events handles POST /slack/events.
//
// url_verification echoes the challenge; event_callback acknowledges with 200
// and runs reaction_added through the pipeline asynchronously. Unknown event
// types are acknowledged and dropped so Slack does not retry them.
func (h *SlackEventsHandler) Events(c *gin.Context) {
	var env slackEventEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidEvent, "invalid event payload")
		return
	}

	switch env.Type {
	case "url_verification":
		ok(c, http.StatusOK, gin.H{"challenge": env.Challenge})

	case "event_callback":
		if env.Event.Type == "reaction_added" && h.Reactions != nil {
			ev := services.ReactionEvent{
				Reaction:  env.Event.Reaction,
				UserID:    env.Event.User,
				ChannelID: env.Event.Item.Channel,
				MessageTS: env.Event.Item.TS,
				ItemType:  env.Event.Item.Type,
			}
			lg := middleware.LoggerFrom(c)
			lg.Debug().
				Str("reaction", ev.Reaction).
				Str("channel", ev.ChannelID).
				Msg("dispatching reaction event")

			timeout := h.DispatchTimeout
			if timeout <= 0 {
				timeout = defaultDispatchTimeout
			}
			// The request context dies with the 200 ack; the pipeline gets a
			// detached context that keeps the trace linkage.
			base := context.WithoutCancel(c.Request.Context())
			h.run(func() {
				ctx, cancel := context.WithTimeout(base, timeout)
				defer cancel()
				h.Reactions.HandleReactionAdded(ctx, ev)
			})
		}
		c.Status(http.StatusOK)

	default:
		c.Status(http.StatusOK)
	}
}

func (h *SlackEventsHandler) run(fn func()) {
	if h.dispatch != nil {
		h.dispatch(fn)
		return
	}
	go fn()
}
