// Package notify fans user and admin notifications out to delivery sinks without blocking
// the settlement path.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Notification is one message to a user or to the operators.
type Notification struct {
	AccountID int64
	Admin     bool
	Title     string
	Message   string
	CreatedAt time.Time
}

// Sink delivers notifications.
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n Notification) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, n Notification) error { return f(ctx, n) }

// Dispatcher queues notifications and delivers them from a background goroutine.
type Dispatcher struct {
	queue      chan Notification
	userSinks  []Sink
	adminSinks []Sink
	logger     *zap.Logger
	timeout    time.Duration

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

// NewDispatcher builds a dispatcher with the given queue size.
func NewDispatcher(buffer int, logger *zap.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   make(chan Notification, buffer),
		logger:  logger,
		timeout: 10 * time.Second,
		stop:    make(chan struct{}),
	}
}

// AddUserSink registers a sink for account notifications. Call before Start.
func (d *Dispatcher) AddUserSink(s Sink) { d.userSinks = append(d.userSinks, s) }

// AddAdminSink registers a sink for operator notifications. Call before Start.
func (d *Dispatcher) AddAdminSink(s Sink) { d.adminSinks = append(d.adminSinks, s) }

// Start launches the delivery loop. Queued notifications are drained when ctx ends.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case n := <-d.queue:
				d.deliver(n)
			case <-ctx.Done():
				d.drain()
				return
			case <-d.stop:
				d.drain()
				return
			}
		}
	}()
}

// Stop ends the loop after draining the queue.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	d.wg.Wait()
}

// NotifyUser queues a message for one account.
func (d *Dispatcher) NotifyUser(_ context.Context, accountID int64, title, message string) {
	d.enqueue(Notification{AccountID: accountID, Title: title, Message: message})
}

// NotifyAdmins queues a message for the operators.
func (d *Dispatcher) NotifyAdmins(_ context.Context, title, message string) {
	d.enqueue(Notification{Admin: true, Title: title, Message: message})
}

func (d *Dispatcher) enqueue(n Notification) {
	n.CreatedAt = time.Now().UTC()
	select {
	case d.queue <- n:
	default:
		d.logger.Warn("notification dropped, queue full",
			zap.String("title", n.Title),
			zap.Int64("account_id", n.AccountID),
			zap.Bool("admin", n.Admin),
		)
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case n := <-d.queue:
			d.deliver(n)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(n Notification) {
	sinks := d.userSinks
	if n.Admin {
		sinks = d.adminSinks
	}
	for _, sink := range sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.safeDeliver(ctx, sink, n)
		cancel()
		if err != nil {
			d.logger.Error("notification delivery failed",
				zap.String("title", n.Title),
				zap.Int64("account_id", n.AccountID),
				zap.Error(err),
			)
		}
	}
}

func (d *Dispatcher) safeDeliver(ctx context.Context, sink Sink, n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notification sink panic", zap.Any("panic", r))
		}
	}()
	return sink.Deliver(ctx, n)
}
