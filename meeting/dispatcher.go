package meeting

import (
	"context"
	"log/slog"
	"sync"

	"github.com/meetkit/meetbot/telemetry"
)

// queueDepth bounds the per-channel intent backlog. A full queue drops the
// intent rather than blocking the transport's receive loop.
const queueDepth = 256

// ReplyFunc posts a reply back to a channel.
type ReplyFunc func(channel, text string)

// Dispatcher serializes intent handling per channel: one goroutine and one
// ordered queue per channel id. This makes the transport's serial-delivery
// guarantee explicit, so start/end check-then-act sequences never race
// within a process regardless of how events arrive.
type Dispatcher struct {
	handler *Handler
	reply   ReplyFunc

	mu     sync.Mutex
	queues map[string]chan Intent
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher over a handler. reply may be nil when
// replies are discarded (tests).
func NewDispatcher(handler *Handler, reply ReplyFunc) *Dispatcher {
	return &Dispatcher{
		handler: handler,
		reply:   reply,
		queues:  make(map[string]chan Intent),
	}
}

// Submit enqueues an intent for its channel, starting the channel worker on
// first use. Returns false if the channel's queue is full and the intent was
// dropped.
func (d *Dispatcher) Submit(ctx context.Context, in Intent) bool {
	d.mu.Lock()
	q, ok := d.queues[in.Channel]
	if !ok {
		q = make(chan Intent, queueDepth)
		d.queues[in.Channel] = q
		d.wg.Add(1)
		go d.run(ctx, in.Channel, q)
	}
	d.mu.Unlock()

	select {
	case q <- in:
		return true
	default:
		telemetry.IncCommandDropped()
		slog.Warn("channel queue full, dropping intent",
			slog.String("channel", in.Channel), slog.Int("kind", int(in.Kind)))
		return false
	}
}

// Wait blocks until all channel workers have exited. Workers exit when the
// context passed to Submit is canceled.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) run(ctx context.Context, channel string, q chan Intent) {
	defer d.wg.Done()
	slog.Debug("channel worker started", slog.String("channel", channel))
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-q:
			reply := d.handler.Dispatch(ctx, in)
			if reply != "" && d.reply != nil {
				d.reply(channel, reply)
			}
		}
	}
}
