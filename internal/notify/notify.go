// Package notify turns watch events into user-visible notifications.
// Dispatch never blocks the caller and delivery failures never propagate.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hellotrik/port-killer/internal/logging"
	"github.com/hellotrik/port-killer/internal/watch"
)

var log = logging.L("notify")

// ErrDeliveryFailed wraps every notifier failure.
var ErrDeliveryFailed = errors.New("notification delivery failed")

const (
	defaultQueueSize   = 64
	defaultPerMinute   = 30
	defaultSendTimeout = 5 * time.Second
)

// Notification is the rendered form of a watch event.
type Notification struct {
	Title string      `json:"title"`
	Body  string      `json:"body"`
	Port  int         `json:"port"`
	Kind  watch.Kind  `json:"kind"`
	Event watch.Event `json:"-"`
}

// Message renders the title and body for e.
func Message(e watch.Event) Notification {
	body := fmt.Sprintf("Port %d is now in use", e.Port)
	if e.Kind == watch.Disappeared {
		body = fmt.Sprintf("Port %d is now free", e.Port)
	}
	return Notification{
		Title: fmt.Sprintf("Port %d", e.Port),
		Body:  body,
		Port:  e.Port,
		Kind:  e.Kind,
		Event: e,
	}
}

// Notifier delivers one notification.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// Options tunes a Dispatcher. Zero values take defaults.
type Options struct {
	QueueSize   int
	PerMinute   int
	SendTimeout time.Duration
}

// Dispatcher queues events and delivers them to every notifier from a
// single background goroutine.
type Dispatcher struct {
	notifiers []Notifier
	queue     chan watch.Event
	limiter   *rate.Limiter
	timeout   time.Duration

	mu      sync.Mutex
	started bool
	stopped bool

	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewDispatcher creates a dispatcher for notifiers. Call Start to begin
// delivery.
func NewDispatcher(opts Options, notifiers ...Notifier) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.PerMinute <= 0 {
		opts.PerMinute = defaultPerMinute
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	burst := opts.PerMinute
	if burst > 10 {
		burst = 10
	}
	return &Dispatcher{
		notifiers: notifiers,
		queue:     make(chan watch.Event, opts.QueueSize),
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.PerMinute)), burst),
		timeout:   opts.SendTimeout,
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Add registers another notifier. It must be called before Start.
func (d *Dispatcher) Add(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		log.Warn("notifier added after start, ignoring", "notifier", n.Name())
		return
	}
	d.notifiers = append(d.notifiers, n)
}

// Start launches the delivery goroutine.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true
	go d.run()
}

// Dispatch enqueues e and reports whether it was accepted. Events over the
// rate limit or beyond the queue capacity are dropped.
func (d *Dispatcher) Dispatch(e watch.Event) bool {
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped {
		return false
	}

	if !d.limiter.Allow() {
		log.Warn("notification rate limit reached, dropping event", logging.KeyPort, e.Port, "kind", string(e.Kind))
		return false
	}

	select {
	case d.queue <- e:
		return true
	default:
		log.Warn("notification queue full, dropping event", logging.KeyPort, e.Port, "kind", string(e.Kind))
		return false
	}
}

// Stop ends delivery after the queued events are flushed or ctx expires.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		started := d.started
		d.mu.Unlock()

		close(d.stopChan)
		if !started {
			return
		}
		select {
		case <-d.done:
		case <-ctx.Done():
			log.Warn("notification dispatcher did not drain before deadline")
		}
	})
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case e := <-d.queue:
			d.deliver(e)
		case <-d.stopChan:
			for {
				select {
				case e := <-d.queue:
					d.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(e watch.Event) {
	n := Message(e)
	for _, notifier := range d.notifiers {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := safeNotify(ctx, notifier, n)
		cancel()
		if err != nil {
			log.Warn("notification dropped",
				"notifier", notifier.Name(), logging.KeyPort, e.Port, logging.KeyError, err)
		}
	}
}

func safeNotify(ctx context.Context, n Notifier, msg Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked: %v", ErrDeliveryFailed, n.Name(), r)
		}
	}()
	if err := n.Notify(ctx, msg); err != nil {
		if errors.Is(err, ErrDeliveryFailed) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrDeliveryFailed, n.Name(), err)
	}
	return nil
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct{}

func (LogNotifier) Name() string { return "log" }

func (LogNotifier) Notify(ctx context.Context, n Notification) error {
	log.Info(n.Body, logging.KeyPort, n.Port, "kind", string(n.Kind))
	return nil
}

// FuncNotifier adapts a function to Notifier.
type FuncNotifier struct {
	Label string
	Fn    func(ctx context.Context, n Notification) error
}

func (f FuncNotifier) Name() string { return f.Label }

func (f FuncNotifier) Notify(ctx context.Context, n Notification) error {
	return f.Fn(ctx, n)
}

// FromConfig builds the notifiers for a notify_command setting
// ("auto", "log" or "none").
func FromConfig(kind string) []Notifier {
	switch kind {
	case "none":
		return nil
	case "log":
		return []Notifier{LogNotifier{}}
	default:
		cmd, err := NewCommandNotifier()
		if err != nil {
			log.Info("desktop notifications unavailable, logging only", logging.KeyError, err)
			return []Notifier{LogNotifier{}}
		}
		return []Notifier{LogNotifier{}, cmd}
	}
}
