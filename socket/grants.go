package socket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"docsync/internal/document/model"
	"docsync/pkg/logger"
)

// GrantSubscriber listens for share grant changes published by the sharing API and
// re-resolves the affected participants' roles.
type GrantSubscriber struct {
	rdb     *redis.Client
	channel string
	hub     *Hub
	timeout time.Duration
}

func NewGrantSubscriber(rdb *redis.Client, channel string, hub *Hub) *GrantSubscriber {
	return &GrantSubscriber{rdb: rdb, channel: channel, hub: hub, timeout: 5 * time.Second}
}

// Run blocks until ctx is cancelled or the subscription fails.
func (g *GrantSubscriber) Run(ctx context.Context) error {
	sub := g.rdb.Subscribe(ctx, g.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	logger.Sugar.Infof("Subscribed to grant changes on %q", g.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			g.handle(ctx, msg.Payload)
		}
	}
}

func (g *GrantSubscriber) handle(ctx context.Context, payload string) {
	var change model.GrantChange
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		logger.Sugar.Warnf("Ignoring malformed grant change %q: %v", payload, err)
		return
	}
	if change.DocumentID == "" || change.UserID == "" {
		logger.Sugar.Warnf("Ignoring incomplete grant change %q", payload)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	g.hub.Regrant(ctx, change.DocumentID, change.UserID)
}
