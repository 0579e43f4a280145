package mailotp

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sethvargo/go-retry"
)

// notifyMessage is one passcode delivery order.
type notifyMessage struct {
	Identity string
	Code     string
}

// notifyDispatcher performs passcode delivery off the request path. Each
// queued message gets up to MaxAttempts Sends with capped Fibonacci backoff
// between tries; a message that exhausts its attempts is dropped and
// counted. RequestOTP never learns the difference.
type notifyDispatcher struct {
	cfg       NotifyConfig
	notifier  Notifier
	ch        chan notifyMessage
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newNotifyDispatcher(cfg NotifyConfig, notifier Notifier) *notifyDispatcher {
	if notifier == nil {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}

	d := &notifyDispatcher{
		cfg:      cfg,
		notifier: notifier,
		ch:       make(chan notifyMessage, cfg.BufferSize),
		done:     make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *notifyDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case msg := <-d.ch:
			d.deliver(msg)
		case <-d.done:
			for {
				select {
				case msg := <-d.ch:
					d.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (d *notifyDispatcher) deliver(msg notifyMessage) {
	backoff := retry.NewFibonacci(d.cfg.InitialBackoff)
	backoff = retry.WithCappedDuration(d.cfg.MaxBackoff, backoff)
	backoff = retry.WithMaxRetries(uint64(d.cfg.MaxAttempts-1), backoff)

	// Delivery outlives the request that queued it: retries run against
	// the background context, not the (long gone) request context.
	err := retry.Do(context.Background(), backoff, func(ctx context.Context) error {
		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()

		if err := d.notifier.Send(sendCtx, msg.Identity, msg.Code); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		d.failed.Add(1)
	}
}

// Dispatch queues a delivery. With DropIfFull set a full buffer drops the
// message and bumps the counter; otherwise Dispatch waits for room or for
// ctx to end.
func (d *notifyDispatcher) Dispatch(ctx context.Context, msg notifyMessage) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- msg:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- msg:
	case <-ctx.Done():
	case <-d.done:
	}
}

// Close stops intake, delivers what is buffered (with retries), and waits
// for the worker to exit.
func (d *notifyDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Failed reports deliveries that exhausted every attempt.
func (d *notifyDispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}

// Dropped reports messages discarded because the buffer was full.
func (d *notifyDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// ChannelNotifier surfaces deliveries on a channel. Intended for tests and
// for hosts bridging into an external mail queue.
type ChannelNotifier struct {
	messages chan NotifierMessage
}

// NotifierMessage is one delivery observed through [ChannelNotifier].
type NotifierMessage struct {
	Identity string
	Code     string
}

func NewChannelNotifier(buffer int) *ChannelNotifier {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelNotifier{
		messages: make(chan NotifierMessage, buffer),
	}
}

func (n *ChannelNotifier) Send(ctx context.Context, identity, code string) error {
	select {
	case n.messages <- NotifierMessage{Identity: identity, Code: code}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *ChannelNotifier) Messages() <-chan NotifierMessage {
	return n.messages
}

// LogNotifier writes the passcode to a writer instead of sending mail.
// Development use only: it prints secrets.
type LogNotifier struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewLogNotifier(w io.Writer) *LogNotifier {
	return &LogNotifier{writer: w}
}

func (n *LogNotifier) Send(_ context.Context, identity, code string) error {
	if n == nil || n.writer == nil {
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	_, err := fmt.Fprintf(n.writer, "passcode for %s: %s\n", identity, code)
	return err
}
