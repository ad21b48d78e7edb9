package collab

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"setlist-service/internal/remote"
	"setlist-service/internal/setlist"
)

// Status is the connection lifecycle observable.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusRetrying     Status = "retrying"
)

var errEventStreamClosed = errors.New("event stream closed")

// Session is one live connection to the document service.
type Session interface {
	Submit(ctx context.Context, m setlist.Mutation) (uint64, error)
	Events() <-chan setlist.Event
	Close() error
}

// Dialer opens a session resuming events after sinceVersion.
type Dialer func(ctx context.Context, sinceVersion uint64) (Session, error)

// SubmitResult reports the outcome of one dispatched mutation:
// either the version it was accepted at, or a rejection. Transport
// failures never produce a result; they are retried internally.
type SubmitResult struct {
	Mutation setlist.Mutation
	Version  uint64
	Err      error
}

// ConnConfig wires a ConnectionManager to its owner.
type ConnConfig struct {
	Dial Dialer
	// Since supplies the owner's current version when (re)subscribing.
	Since    func() uint64
	OnEvent  func(setlist.Event)
	OnResult func(SubmitResult)
	OnStatus func(Status)

	// Backoff overrides, mainly for tests. Zero values take the
	// defaults: 500ms base, doubling, capped at 30s, retried for as
	// long as the view stays open.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// ConnectionManager owns the connect/retry lifecycle against the
// document service. Mutations sent while disconnected queue in FIFO
// order and replay in that exact order on reconnect. Closing the
// manager cancels retries and in-flight sends immediately.
type ConnectionManager struct {
	cfg ConnConfig

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}

	mu      sync.Mutex
	status  Status
	queue   []setlist.Mutation
	started bool
}

func NewConnectionManager(cfg ConnConfig) *ConnectionManager {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionManager{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
		status: StatusDisconnected,
	}
}

// Connect starts the lifecycle loop. Safe to call once.
func (cm *ConnectionManager) Connect() {
	cm.mu.Lock()
	if cm.started {
		cm.mu.Unlock()
		return
	}
	cm.started = true
	cm.mu.Unlock()
	go cm.run()
}

// Close cancels retries and in-flight sends and waits for the loop
// to stop. Queued mutations are discarded with the view.
func (cm *ConnectionManager) Close() {
	cm.cancel()
	cm.mu.Lock()
	started := cm.started
	cm.mu.Unlock()
	if started {
		<-cm.done
	}
}

// Send queues a mutation for delivery. It never blocks; transport
// failures are retried by the manager's own backoff, so callers must
// not retry on their own.
func (cm *ConnectionManager) Send(m setlist.Mutation) {
	cm.mu.Lock()
	cm.queue = append(cm.queue, m)
	cm.mu.Unlock()
	select {
	case cm.wake <- struct{}{}:
	default:
	}
}

// Status returns the current lifecycle state.
func (cm *ConnectionManager) Status() Status {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.status
}

// QueuedCount reports mutations not yet accepted or rejected.
func (cm *ConnectionManager) QueuedCount() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.queue)
}

func (cm *ConnectionManager) run() {
	defer close(cm.done)
	defer cm.setStatus(StatusDisconnected)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cm.cfg.InitialBackoff
	bo.MaxInterval = cm.cfg.MaxBackoff
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0 // retry while the view is open
	bo.Reset()

	first := true
	for {
		if cm.ctx.Err() != nil {
			return
		}
		if first {
			cm.setStatus(StatusConnecting)
			first = false
		}

		since := uint64(0)
		if cm.cfg.Since != nil {
			since = cm.cfg.Since()
		}
		sess, err := cm.cfg.Dial(cm.ctx, since)
		if err != nil {
			if cm.ctx.Err() != nil {
				return
			}
			cm.setStatus(StatusRetrying)
			if !cm.sleep(bo.NextBackOff()) {
				return
			}
			continue
		}

		bo.Reset()
		cm.setStatus(StatusConnected)
		err = cm.serve(sess)
		sess.Close()
		if cm.ctx.Err() != nil {
			return
		}
		cm.setStatus(StatusRetrying)
		if !cm.sleep(bo.NextBackOff()) {
			return
		}
	}
}

// serve pumps the session: queued mutations drain first in FIFO
// order, then new sends and incoming events interleave. Returns on
// transport failure with the unacked queue intact.
func (cm *ConnectionManager) serve(sess Session) error {
	for {
		if m, ok := cm.head(); ok {
			version, err := sess.Submit(cm.ctx, m)
			if err != nil {
				if remote.IsRejection(err) {
					cm.drop(m.ID)
					cm.report(SubmitResult{Mutation: m, Err: err})
					continue
				}
				return err
			}
			cm.drop(m.ID)
			cm.report(SubmitResult{Mutation: m, Version: version})
			continue
		}

		select {
		case <-cm.ctx.Done():
			return cm.ctx.Err()
		case <-cm.wake:
		case ev, ok := <-sess.Events():
			if !ok {
				return errEventStreamClosed
			}
			if cm.cfg.OnEvent != nil {
				cm.cfg.OnEvent(ev)
			}
		}
	}
}

func (cm *ConnectionManager) head() (setlist.Mutation, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if len(cm.queue) == 0 {
		return setlist.Mutation{}, false
	}
	return cm.queue[0], true
}

func (cm *ConnectionManager) drop(mutationID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for i, q := range cm.queue {
		if q.ID == mutationID {
			cm.queue = append(cm.queue[:i], cm.queue[i+1:]...)
			return
		}
	}
}

func (cm *ConnectionManager) report(res SubmitResult) {
	if cm.cfg.OnResult != nil {
		cm.cfg.OnResult(res)
	}
}

func (cm *ConnectionManager) setStatus(s Status) {
	cm.mu.Lock()
	if cm.status == s {
		cm.mu.Unlock()
		return
	}
	cm.status = s
	cm.mu.Unlock()
	if cm.cfg.OnStatus != nil {
		cm.cfg.OnStatus(s)
	}
}

func (cm *ConnectionManager) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-cm.ctx.Done():
		return false
	}
}
