package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/omnessssssssss/gallery-dl/internal/utils"
)

// Signal is a one-way cancellation token scoped to a single download.
// Set is idempotent and never resets. Workers poll IsSet between units
// of work; in-flight requests hang off Context so a set signal also
// unblocks network reads.
type Signal struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a signal and attaches it to the process interrupt
// broadcaster. If an interrupt already fired, the signal starts set.
func New() *Signal {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Signal{ctx: ctx, cancel: cancel}
	register(s)
	return s
}

func (s *Signal) Set() {
	s.cancel()
}

func (s *Signal) IsSet() bool {
	return s.ctx.Err() != nil
}

func (s *Signal) Done() <-chan struct{} {
	return s.ctx.Done()
}

func (s *Signal) Context() context.Context {
	return s.ctx
}

// Release detaches the signal from the interrupt broadcaster. Callers
// should defer it as soon as the signal is created.
func (s *Signal) Release() {
	unregister(s)
}

var (
	mu          sync.Mutex
	active      = make(map[*Signal]struct{})
	interrupted bool
	installOnce sync.Once
)

func register(s *Signal) {
	mu.Lock()
	defer mu.Unlock()
	if interrupted {
		s.cancel()
		return
	}
	active[s] = struct{}{}
}

func unregister(s *Signal) {
	mu.Lock()
	defer mu.Unlock()
	delete(active, s)
}

func fireAll() {
	mu.Lock()
	defer mu.Unlock()
	interrupted = true
	for s := range active {
		s.cancel()
	}
	active = make(map[*Signal]struct{})
}

// NotifyInterrupt installs a process-wide SIGINT/SIGTERM listener that
// sets every active signal. Signals created afterwards start set, so
// queued work drains without starting. Repeated interrupts are absorbed.
func NotifyInterrupt() {
	installOnce.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		go func() {
			log := utils.GetLogger("shutdown")
			for range ch {
				log.Warn().Msg("Interrupt received, stopping downloads")
				fireAll()
			}
		}()
	})
}
