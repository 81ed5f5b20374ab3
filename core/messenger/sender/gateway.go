package sender

import (
	"context"

	"github.com/locano/channelbot/core/logger"
	"github.com/locano/channelbot/core/messenger"
)

// AsyncGateway runs outbound deliveries through the dispatcher so a large
// fan-out never blocks the caller on platform latency. Lookups and link
// rendering stay synchronous; only the fire-and-forget half is queued.
type AsyncGateway struct {
	gw messenger.Gateway
	d  *Dispatcher
}

// NewAsyncGateway wraps gw with queued delivery.
func NewAsyncGateway(gw messenger.Gateway, d *Dispatcher) *AsyncGateway {
	return &AsyncGateway{gw: gw, d: d}
}

func (g *AsyncGateway) SendText(_ context.Context, fbid, text string, replies []messenger.QuickReply) error {
	// The inbound request context dies with the webhook call; queued jobs
	// must outlive it.
	ctx := logger.Background()
	return g.d.Enqueue(ctx, "send.text", fbid, func() error {
		return g.gw.SendText(ctx, fbid, text, replies)
	})
}

func (g *AsyncGateway) SendButtons(_ context.Context, fbid, text string, buttons []messenger.Button) error {
	ctx := logger.Background()
	return g.d.Enqueue(ctx, "send.buttons", fbid, func() error {
		return g.gw.SendButtons(ctx, fbid, text, buttons)
	})
}

func (g *AsyncGateway) SendElements(_ context.Context, fbid string, elements []messenger.Element) error {
	ctx := logger.Background()
	return g.d.Enqueue(ctx, "send.elements", fbid, func() error {
		return g.gw.SendElements(ctx, fbid, elements)
	})
}

func (g *AsyncGateway) Profile(ctx context.Context, fbid string) (*messenger.Profile, error) {
	return g.gw.Profile(ctx, fbid)
}

func (g *AsyncGateway) ShareLink(ref string) string {
	return g.gw.ShareLink(ref)
}

func (g *AsyncGateway) ShareableCode(ctx context.Context, ref string) (string, error) {
	return g.gw.ShareableCode(ctx, ref)
}
