// Package workers evaluates jobs in parallel, each worker owning its own
// emulator and random generator.
package workers

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zboralski/hatchery/internal/emulator"
	glog "github.com/zboralski/hatchery/internal/log"
	"github.com/zboralski/hatchery/internal/oracle"
)

// Worker is the state private to one goroutine of a Pool.
type Worker struct {
	ID   int
	Rand *rand.Rand
	Log  *glog.Logger

	base *emulator.Emulator
}

// Fresh returns a copy of the worker's baseline emulator, registers
// included. The caller closes it.
func (w *Worker) Fresh() (*emulator.Emulator, error) {
	return w.base.CloneWithRegisters()
}

// Func evaluates job number job. emu is a fresh baseline instance that is
// closed when Func returns.
type Func func(ctx context.Context, w *Worker, emu *emulator.Emulator, job int) error

// Pool runs Funcs over a shared Oracle.
type Pool struct {
	oracle *oracle.Oracle
	size   int
	log    *glog.Logger
}

// New returns a pool of size workers; size <= 0 means GOMAXPROCS.
func New(o *oracle.Oracle, size int, log *glog.Logger) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	if log == nil {
		log = glog.Default()
	}
	return &Pool{oracle: o, size: size, log: log.Named("pool")}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Run evaluates jobs 0..n-1. The first error cancels the remaining work
// and is returned.
func (p *Pool) Run(ctx context.Context, n int, fn Func) error {
	if _, err := p.oracle.Image(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	jobs := make(chan int)

	g.Go(func() error {
		defer close(jobs)
		for i := 0; i < n; i++ {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	workers := min(p.size, n)
	for id := 0; id < workers; id++ {
		g.Go(func() error {
			return p.work(ctx, id, jobs, fn)
		})
	}

	return g.Wait()
}

func (p *Pool) work(ctx context.Context, id int, jobs <-chan int, fn Func) error {
	log := p.log.With(glog.Worker(id))
	base, err := p.oracle.NewEmulator(emulator.WithLogger(log))
	if err != nil {
		return fmt.Errorf("worker %d: %w", id, err)
	}
	defer base.Close()

	w := &Worker{ID: id, Rand: p.oracle.Derive(id), Log: log, base: base}
	done := 0
	defer func() { log.Debug("worker done", zap.Int("jobs", done)) }()

	for job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.runOne(ctx, w, job, fn); err != nil {
			return fmt.Errorf("job %d: %w", job, err)
		}
		done++
	}
	return nil
}

func (p *Pool) runOne(ctx context.Context, w *Worker, job int, fn Func) error {
	emu, err := w.Fresh()
	if err != nil {
		return err
	}
	defer emu.Close()
	return fn(ctx, w, emu, job)
}
