// Package shutdown cancels a running probe on SIGINT/SIGTERM and runs cleanup
// callbacks once the caller is done.
package shutdown

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/PentesterFlow/authprobe/internal/logger"
)

// Handler manages interrupt handling and cleanup.
type Handler struct {
	mu sync.Mutex

	// Callbacks
	callbacks     []Callback
	callbackNames []string

	// State
	interrupted    atomic.Bool
	isShuttingDown atomic.Bool
	done           chan struct{}
	timeout        time.Duration

	// Context
	ctx    context.Context
	cancel context.CancelFunc

	// Signal handling
	sigChan chan os.Signal
	stop    chan struct{}

	logger *logger.Logger
}

// Callback is a cleanup function run during shutdown.
type Callback func(ctx context.Context) error

// Config holds shutdown configuration.
type Config struct {
	Timeout time.Duration
	Signals []os.Signal
	Logger  *logger.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 10 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// New creates a new shutdown handler derived from parent.
func New(parent context.Context, cfg Config) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Global().WithComponent("shutdown")
	}

	ctx, cancel := context.WithCancel(parent)

	h := &Handler{
		done:    make(chan struct{}),
		timeout: cfg.Timeout,
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 1),
		stop:    make(chan struct{}),
		logger:  cfg.Logger,
	}

	signal.Notify(h.sigChan, cfg.Signals...)
	go h.listen()

	return h
}

// listen cancels the context on the first signal.
func (h *Handler) listen() {
	select {
	case sig := <-h.sigChan:
		h.interrupted.Store(true)
		h.logger.Warnf("Received %s, cancelling remaining attempts", sig)
		h.cancel()
	case <-h.stop:
	}
}

// Register registers a cleanup callback with a name.
func (h *Handler) Register(name string, callback Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.callbacks = append(h.callbacks, callback)
	h.callbackNames = append(h.callbackNames, name)
}

// RegisterCloser registers c.Close as a cleanup callback.
func (h *Handler) RegisterCloser(name string, c io.Closer) {
	h.Register(name, func(ctx context.Context) error {
		return c.Close()
	})
}

// Context returns the run context. It is cancelled on interrupt or when
// shutdown begins.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// Interrupted reports whether a signal was received.
func (h *Handler) Interrupted() bool {
	return h.interrupted.Load()
}

// IsShuttingDown returns whether shutdown is in progress.
func (h *Handler) IsShuttingDown() bool {
	return h.isShuttingDown.Load()
}

// Done returns a channel that is closed when shutdown completes.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Trigger simulates a received signal.
func (h *Handler) Trigger() {
	select {
	case h.sigChan <- syscall.SIGTERM:
	default:
		// Signal already pending
	}
}

// Shutdown cancels the context, runs callbacks in reverse registration order
// and stops signal handling. It returns the callback errors. Only the first
// call does anything.
func (h *Handler) Shutdown() []error {
	if !h.isShuttingDown.CompareAndSwap(false, true) {
		return nil
	}

	start := time.Now()

	h.cancel()
	signal.Stop(h.sigChan)
	close(h.stop)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), h.timeout)
	defer shutdownCancel()

	var errs []error
	h.mu.Lock()
	callbacks := make([]Callback, len(h.callbacks))
	names := make([]string, len(h.callbackNames))
	copy(callbacks, h.callbacks)
	copy(names, h.callbackNames)
	h.mu.Unlock()

	for i := len(callbacks) - 1; i >= 0; i-- {
		if err := h.executeCallback(shutdownCtx, names[i], callbacks[i]); err != nil {
			h.logger.ErrorEvent(err, "", "shutdown "+names[i])
			errs = append(errs, err)
		}
	}

	h.logger.Event(logger.DebugLevel).
		Dur("elapsed", time.Since(start)).
		Int("errors", len(errs)).
		Msg("Shutdown complete")

	close(h.done)
	return errs
}

// executeCallback executes a callback with timeout handling.
func (h *Handler) executeCallback(ctx context.Context, name string, callback Callback) error {
	done := make(chan error, 1)

	go func() {
		done <- callback(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &TimeoutError{CallbackName: name}
	}
}

// TimeoutError is returned when a callback times out.
type TimeoutError struct {
	CallbackName string
}

func (e *TimeoutError) Error() string {
	return "shutdown callback timed out: " + e.CallbackName
}
