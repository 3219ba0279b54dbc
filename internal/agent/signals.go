package agent

import (
	"os"
	"os/signal"
	"syscall"
)

// startSignalWatcher registers the four signals the loop responds to and
// translates each into an atomic flag plus a wake notification. Returning
// the stop func lets Run unregister cleanly instead of leaking the
// goroutine past its own lifetime.
func (a *Agent) startSignalWatcher() func() {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGUSR1)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig, ok := <-ch:
				if !ok {
					return
				}
				switch sig {
				case syscall.SIGTERM, syscall.SIGINT:
					a.term.Store(true)
				case syscall.SIGHUP:
					a.reload.Store(true)
				case syscall.SIGUSR1:
					a.forceSync.Store(true)
				}
				a.notifyWake()
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
