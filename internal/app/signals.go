package app

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"warden/internal/logging"
)

const (
	// GracefulShutdownTimeout bounds the wait for background goroutines.
	GracefulShutdownTimeout = 10 * time.Second
	// ForcedShutdownTimeout is how long a signalled app may take to exit.
	ForcedShutdownTimeout = 15 * time.Second

	exitInterrupted = 130
)

// workerGroup runs the app's background goroutines (janitor, watchers) and
// refuses new ones once shutdown starts.
type workerGroup struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// Go runs fn unless the group is closed.
func (g *workerGroup) Go(fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
	return true
}

// Close stops the group accepting work and waits up to timeout for running
// goroutines. It reports whether they all returned.
func (g *workerGroup) Close(timeout time.Duration) bool {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// setupSignalHandler routes SIGINT/SIGTERM to handleSignals. The returned
// func detaches it.
func (a *App) setupSignalHandler() func() {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	stop := make(chan struct{})
	go a.handleSignals(sigs, stop)

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigs)
			close(stop)
		})
	}
}

// handleSignals cancels the app context on the first signal, which kills the
// foreground command. A second signal or a stalled shutdown exits the process.
func (a *App) handleSignals(sigs <-chan os.Signal, stop <-chan struct{}) {
	var sig os.Signal
	select {
	case sig = <-sigs:
	case <-stop:
		return
	}
	logging.Info("received signal, cancelling", "signal", sig.String())
	a.cancel()

	deadline := time.NewTimer(ForcedShutdownTimeout)
	defer deadline.Stop()
	select {
	case sig = <-sigs:
		logging.Warn("second signal, exiting", "signal", sig.String())
		os.Exit(exitInterrupted)
	case <-deadline.C:
		logging.Warn("shutdown stalled, exiting")
		os.Exit(1)
	case <-stop:
	}
}
