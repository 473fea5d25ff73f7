package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/popwandee/lprserver-v3-sub001/internal/errors"
	"github.com/popwandee/lprserver-v3-sub001/internal/wire"
)

// Config holds negotiator tuning.
type Config struct {
	// FailureThreshold is the number of consecutive failures before a
	// transport is demoted for the cooldown window.
	FailureThreshold int
	// Cooldown is how long a demoted transport is skipped before re-probing.
	Cooldown time.Duration
	// StatePath optionally persists the last-known-good transport between
	// restarts. Auxiliary only; correctness never depends on it.
	StatePath string
}

// transportStatus tracks per-transport failure accounting.
type transportStatus struct {
	consecutiveFailures int
	demotedUntil        time.Time
}

// Negotiator orders the delivery channels by preference and exposes a single
// Deliver call to the sender agent. Fallback happens per call with no global
// demotion; only repeated consecutive failures demote a transport for the
// cooldown window, after which a successful probe restores its priority.
type Negotiator struct {
	config     Config
	transports []Transport
	oplog      *OpLog
	logger     *slog.Logger

	mu     sync.Mutex
	status map[string]*transportStatus
}

// NewNegotiator creates a negotiator over the given transports, highest
// priority first. If a persisted last-good transport exists, the channels
// ranked above it start demoted with an expired cooldown so the first cycle
// probes them instead of paying a full delivery timeout.
func NewNegotiator(config Config, transports []Transport, logger *slog.Logger) *Negotiator {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.Cooldown <= 0 {
		config.Cooldown = time.Minute
	}

	n := &Negotiator{
		config:     config,
		transports: transports,
		oplog:      NewOpLog(256),
		logger:     logger,
		status:     make(map[string]*transportStatus),
	}
	for _, t := range transports {
		n.status[t.Name()] = &transportStatus{}
	}

	if state, err := LoadState(config.StatePath); err == nil && state != nil {
		n.applyPersistedState(state)
	}

	return n
}

// applyPersistedState pre-demotes transports ranked above the last-known-good
// one. Their cooldown is already expired, so they are probed on first use.
func (n *Negotiator) applyPersistedState(state *State) {
	for _, t := range n.transports {
		if t.Name() == state.Transport {
			return
		}
		st := n.status[t.Name()]
		st.consecutiveFailures = n.config.FailureThreshold
		st.demotedUntil = time.Now()
	}
}

// Log exposes the operational ring buffer to operators.
func (n *Negotiator) Log() *OpLog { return n.oplog }

// Deliver attempts the batch on each usable transport in priority order.
// A terminal rejection from the server stops the fallback chain; transport
// failures continue down the list. If every channel is unreachable the
// returned error wraps apperrors.ErrTransport so the sender retries later.
//
// The mutex guards the status map only, never network calls: the detection
// sender, the health sender and the monitor's Probe must not serialize on a
// slow delivery. The per-transport mutexes already enforce one in-flight
// call per connection.
func (n *Negotiator) Deliver(ctx context.Context, batch *wire.Batch) ([]wire.Ack, error) {
	if len(n.transports) == 0 {
		return nil, fmt.Errorf("%w: no transport configured", apperrors.ErrTransport)
	}

	var lastErr error
	for _, t := range n.transports {
		usable, err := n.admit(ctx, t)
		if err != nil {
			lastErr = err
		}
		if !usable {
			continue
		}

		acks, err := t.Deliver(ctx, batch)
		if err == nil {
			n.recordSuccess(t.Name(), len(batch.Messages))
			return acks, nil
		}

		if apperrors.Is(err, apperrors.ErrRejected) {
			// The server spoke: trying another channel cannot change the
			// verdict and would duplicate the attempt.
			n.oplog.Append(OpEntry{Transport: t.Name(), Result: OpFailure, Detail: err.Error()})
			return nil, err
		}

		n.recordFailure(t.Name(), err)
		lastErr = err
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%w: all transports in cooldown", apperrors.ErrTransport)
	}
	if !apperrors.Is(lastErr, apperrors.ErrTransport) {
		lastErr = fmt.Errorf("%w: %v", apperrors.ErrTransport, lastErr)
	}
	return nil, lastErr
}

// admit reports whether a transport may be tried now. A demoted transport
// inside its cooldown is skipped; one whose cooldown expired must pass a
// probe before it is trusted again. The probe runs outside the lock.
func (n *Negotiator) admit(ctx context.Context, t Transport) (bool, error) {
	n.mu.Lock()
	demotedUntil := n.status[t.Name()].demotedUntil
	n.mu.Unlock()

	if demotedUntil.IsZero() {
		return true, nil
	}
	if time.Now().Before(demotedUntil) {
		return false, nil
	}

	if err := t.Probe(ctx); err != nil {
		n.mu.Lock()
		n.status[t.Name()].demotedUntil = time.Now().Add(n.config.Cooldown)
		n.mu.Unlock()
		n.oplog.Append(OpEntry{Transport: t.Name(), Result: OpProbe, Detail: err.Error()})
		return false, err
	}

	n.mu.Lock()
	st := n.status[t.Name()]
	st.consecutiveFailures = 0
	st.demotedUntil = time.Time{}
	n.mu.Unlock()
	n.oplog.Append(OpEntry{Transport: t.Name(), Result: OpRestore})
	n.logger.Info("transport restored", slog.String("transport", t.Name()))
	return true, nil
}

// recordSuccess resets the failure count after a delivered batch.
func (n *Negotiator) recordSuccess(name string, batchSize int) {
	n.mu.Lock()
	n.status[name].consecutiveFailures = 0
	n.mu.Unlock()

	n.oplog.Append(OpEntry{Transport: name, Result: OpSuccess, BatchSize: batchSize})
	n.saveState(name)
}

// recordFailure counts a transport failure and demotes the channel for the
// cooldown window once the threshold is reached.
func (n *Negotiator) recordFailure(name string, cause error) {
	n.mu.Lock()
	st := n.status[name]
	st.consecutiveFailures++
	failures := st.consecutiveFailures
	demoted := failures >= n.config.FailureThreshold
	if demoted {
		st.demotedUntil = time.Now().Add(n.config.Cooldown)
	}
	n.mu.Unlock()

	n.oplog.Append(OpEntry{Transport: name, Result: OpFailure, Detail: cause.Error()})
	n.logger.Warn("transport delivery failed",
		slog.String("transport", name),
		slog.Int("consecutive_failures", failures),
		slog.Any("error", cause),
	)
	if demoted {
		n.oplog.Append(OpEntry{Transport: name, Result: OpDemoted})
		n.logger.Warn("transport demoted",
			slog.String("transport", name),
			slog.Duration("cooldown", n.config.Cooldown),
		)
	}
}

// Probe checks whether any transport is currently reachable. Used by the
// health monitor as the upstream reachability check. It reads nothing from
// the status map and takes no lock, so it never waits behind a delivery.
func (n *Negotiator) Probe(ctx context.Context) error {
	var lastErr error
	for _, t := range n.transports {
		err := t.Probe(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	if lastErr == nil {
		return fmt.Errorf("%w: no transport configured", apperrors.ErrTransport)
	}
	return lastErr
}

// Close shuts down every transport. Each transport serializes Close against
// its own in-flight calls.
func (n *Negotiator) Close() error {
	var lastErr error
	for _, t := range n.transports {
		if err := t.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// saveState persists the last-good transport, best effort.
func (n *Negotiator) saveState(name string) {
	if n.config.StatePath == "" {
		return
	}
	if err := SaveState(n.config.StatePath, &State{Transport: name, UpdatedAt: time.Now().UTC()}); err != nil {
		n.logger.Debug("failed to persist transport state", slog.Any("error", err))
	}
}
