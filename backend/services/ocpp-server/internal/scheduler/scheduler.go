// Package scheduler runs one-shot auto-stop tasks keyed by session id.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a pending auto-stop for a session.
type Task struct {
	SessionID int64
	Reason    string
	Due       time.Time
}

// Handler executes a fired task. It must tolerate sessions that were already finalized.
type Handler func(ctx context.Context, task Task)

// Config tunes the scheduler. Unit is the length of one "minute" of delay and exists so
// tests can run on a compressed clock.
type Config struct {
	Workers   int
	QueueSize int
	Unit      time.Duration
}

type scheduleReq struct {
	task  Task
	delay time.Duration
}

type cancelReq struct {
	sessionID int64
	reply     chan bool
}

type queryReq struct {
	sessionID int64
	reply     chan queryResult
}

type queryResult struct {
	task Task
	ok   bool
}

type fired struct {
	sessionID int64
	seq       uint64
}

type entry struct {
	task  Task
	seq   uint64
	timer *time.Timer
}

// Scheduler owns its pending set inside a single run loop; callers talk to it through
// channels only. Timers post a fired message back to the loop, which discards it unless
// it still matches the current task for that session.
type Scheduler struct {
	cfg    Config
	logger *zap.Logger

	scheduleCh chan scheduleReq
	cancelCh   chan cancelReq
	queryCh    chan queryReq
	firedCh    chan fired
	queue      chan Task

	done     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a scheduler. Call Start before scheduling.
func New(cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Unit <= 0 {
		cfg.Unit = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:        cfg,
		logger:     logger,
		scheduleCh: make(chan scheduleReq),
		cancelCh:   make(chan cancelReq),
		queryCh:    make(chan queryReq),
		firedCh:    make(chan fired),
		queue:      make(chan Task, cfg.QueueSize),
		done:       make(chan struct{}),
	}
}

// Start launches the run loop and the worker pool.
func (s *Scheduler) Start(ctx context.Context, handler Handler) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.done)
		s.run(ctx)
	}()

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.work(ctx, handler)
		}()
	}
}

// Stop cancels every pending task and waits for workers to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	s.wg.Wait()
}

// Schedule arranges an auto-stop after delayMinutes, replacing any pending task for the session.
func (s *Scheduler) Schedule(sessionID int64, delayMinutes int, reason string) {
	if delayMinutes < 0 {
		delayMinutes = 0
	}
	delay := time.Duration(delayMinutes) * s.cfg.Unit
	req := scheduleReq{
		task:  Task{SessionID: sessionID, Reason: reason, Due: time.Now().Add(delay)},
		delay: delay,
	}
	select {
	case s.scheduleCh <- req:
	case <-s.done:
	}
}

// Cancel drops the pending task for a session and reports whether one existed.
func (s *Scheduler) Cancel(sessionID int64) bool {
	req := cancelReq{sessionID: sessionID, reply: make(chan bool, 1)}
	select {
	case s.cancelCh <- req:
		return <-req.reply
	case <-s.done:
		return false
	}
}

// Pending returns the task waiting for a session, if any.
func (s *Scheduler) Pending(sessionID int64) (Task, bool) {
	req := queryReq{sessionID: sessionID, reply: make(chan queryResult, 1)}
	select {
	case s.queryCh <- req:
		res := <-req.reply
		return res.task, res.ok
	case <-s.done:
		return Task{}, false
	}
}

func (s *Scheduler) run(ctx context.Context) {
	pending := make(map[int64]*entry)
	var seq uint64

	defer func() {
		for _, e := range pending {
			e.timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case req := <-s.scheduleCh:
			id := req.task.SessionID
			if prev, ok := pending[id]; ok {
				prev.timer.Stop()
			}
			seq++
			msg := fired{sessionID: id, seq: seq}
			e := &entry{task: req.task, seq: seq}
			e.timer = time.AfterFunc(req.delay, func() {
				select {
				case s.firedCh <- msg:
				case <-ctx.Done():
				}
			})
			pending[id] = e
			s.logger.Debug("auto-stop scheduled",
				zap.Int64("session_id", id),
				zap.Duration("delay", req.delay),
				zap.String("reason", req.task.Reason),
			)

		case req := <-s.cancelCh:
			e, ok := pending[req.sessionID]
			if ok {
				e.timer.Stop()
				delete(pending, req.sessionID)
			}
			req.reply <- ok

		case req := <-s.queryCh:
			e, ok := pending[req.sessionID]
			res := queryResult{ok: ok}
			if ok {
				res.task = e.task
			}
			req.reply <- res

		case f := <-s.firedCh:
			e, ok := pending[f.sessionID]
			if !ok || e.seq != f.seq {
				continue
			}
			delete(pending, f.sessionID)
			task := e.task
			select {
			case s.queue <- task:
			default:
				go func() {
					select {
					case s.queue <- task:
					case <-ctx.Done():
					}
				}()
			}
		}
	}
}

func (s *Scheduler) work(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-s.queue:
			s.execute(ctx, handler, task)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, handler Handler, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("auto-stop handler panic",
				zap.Int64("session_id", task.SessionID),
				zap.Any("panic", r),
			)
		}
	}()
	handler(ctx, task)
}
