package workers_test

import (
	"context"
	"debug/elf"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zboralski/hatchery/internal/elftest"
	"github.com/zboralski/hatchery/internal/emulator"
	"github.com/zboralski/hatchery/internal/image"
	"github.com/zboralski/hatchery/internal/oracle"
	"github.com/zboralski/hatchery/internal/seed"
	"github.com/zboralski/hatchery/internal/workers"
)

var addCode = []byte{
	0x05, 0x00, 0xa0, 0xe3, // MOV R0, #5
	0x03, 0x10, 0xa0, 0xe3, // MOV R1, #3
	0x01, 0x20, 0x80, 0xe0, // ADD R2, R0, R1
}

func newOracle() *oracle.Oracle {
	buf := elftest.ARM().
		Load(0x10000, 0x20, elf.PF_R|elf.PF_X).
		Code(".text", 0x10000, addCode).
		Bytes()
	return oracle.New(buf, oracle.WithSeed(seed.Seed{42}))
}

var _ = Describe("Pool", func() {
	It("runs every job on a fresh baseline emulator", func() {
		p := workers.New(newOracle(), 4, nil)
		const n = 20
		results := make([]uint64, n)
		dirty := make([]uint64, n)
		var ids sync.Map

		err := p.Run(context.Background(), n, func(ctx context.Context, w *workers.Worker, emu *emulator.Emulator, job int) error {
			ids.Store(w.ID, true)
			dirty[job], _ = emu.Register("r2")
			if _, err := emu.Start(0x10000, 0x1000c, 0, 0); err != nil {
				return err
			}
			results[job], _ = emu.Register("r2")
			return nil
		})
		Expect(err).NotTo(HaveOccurred())

		for job := 0; job < n; job++ {
			Expect(dirty[job]).To(BeZero(), "job %d started dirty", job)
			Expect(results[job]).To(Equal(uint64(8)), "job %d", job)
		}
		ids.Range(func(k, _ any) bool {
			Expect(k.(int)).To(BeNumerically(">=", 0))
			Expect(k.(int)).To(BeNumerically("<", p.Size()))
			return true
		})
	})

	It("keeps jobs from seeing each other's writes", func() {
		p := workers.New(newOracle(), 2, nil)
		err := p.Run(context.Background(), 10, func(ctx context.Context, w *workers.Worker, emu *emulator.Emulator, job int) error {
			addr, _, err := emu.FindStack()
			if err != nil {
				return err
			}
			got, err := emu.Read(addr, 1)
			if err != nil {
				return err
			}
			if got[0] != 0 {
				return fmt.Errorf("job %d sees a previous job's stack write", job)
			}
			return emu.Write(addr, []byte{byte(job + 1)})
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("cancels remaining jobs on the first error", func() {
		p := workers.New(newOracle(), 3, nil)
		boom := errors.New("boom")
		var ran atomic.Int32

		err := p.Run(context.Background(), 1000, func(ctx context.Context, w *workers.Worker, emu *emulator.Emulator, job int) error {
			ran.Add(1)
			if job == 5 {
				return boom
			}
			return nil
		})
		Expect(err).To(MatchError(boom))
		Expect(ran.Load()).To(BeNumerically("<", 1000))
	})

	It("fails before running jobs when the image cannot be built", func() {
		p := workers.New(oracle.New([]byte("junk")), 2, nil)
		var ran atomic.Int32
		err := p.Run(context.Background(), 3, func(context.Context, *workers.Worker, *emulator.Emulator, int) error {
			ran.Add(1)
			return nil
		})
		Expect(err).To(MatchError(image.ErrFormat))
		Expect(ran.Load()).To(BeZero())
	})

	It("stops when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		p := workers.New(newOracle(), 2, nil)
		err := p.Run(ctx, 100, func(context.Context, *workers.Worker, *emulator.Emulator, int) error {
			return nil
		})
		Expect(err).To(MatchError(context.Canceled))
	})

	It("defaults to at least one worker", func() {
		Expect(workers.New(newOracle(), 0, nil).Size()).To(BeNumerically(">=", 1))
	})
})
