package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/zboralski/hatchery/internal/config"
	"github.com/zboralski/hatchery/internal/emulator"
	"github.com/zboralski/hatchery/internal/image"
	glog "github.com/zboralski/hatchery/internal/log"
	"github.com/zboralski/hatchery/internal/oracle"
	"github.com/zboralski/hatchery/internal/trace"
	"github.com/zboralski/hatchery/internal/ui/colorize"
	"github.com/zboralski/hatchery/internal/workers"
)

var (
	cfgPath string
	binary  string
	arch    string
	mode    string
	verbose bool
	quiet   bool

	runUntil uint64
	runCount uint64
	runTrace bool

	sweepJobs    int
	sweepWorkers int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hatchery",
		Short: "Emulation oracle for ROP chain evaluation",
		Long: `Hatchery loads an ARM or MIPS ELF binary into a page-aligned baseline image
and runs code from it under Unicorn.

Every run starts from a fresh copy of the baseline, so results depend only
on the binary, the entry point and the seed. Settings come from
~/.hatchery/config.yaml ($HATCHERY_CONFIG_DIR overrides the directory);
flags override the file.

Examples:
  hatchery info -b ./target.elf              # Segments, headers and digest
  hatchery find 0x10000 32 -b ./target.elf   # Read the baseline statically
  hatchery run 0x10400 --trace               # Trace one run
  hatchery sweep -j 1000                     # Random entry points in parallel`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			glog.Init(verbose)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgPath, "config", "c", "", "config file (default $HATCHERY_CONFIG_DIR/config.yaml)")
	pf.StringVarP(&binary, "binary", "b", "", "ELF binary, overrides the config")
	pf.StringVar(&arch, "arch", "", "arm or mips, overrides the config")
	pf.StringVar(&mode, "mode", "", "arm, thumb, little or big, overrides the config")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose debug output")
	pf.BoolVarP(&quiet, "quiet", "q", false, "quiet mode (summary only)")

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show the baseline image",
		Args:  cobra.NoArgs,
		RunE:  showInfo,
	}

	findCmd := &cobra.Command{
		Use:   "find <addr> <size>",
		Short: "Read bytes from the baseline without emulating",
		Args:  cobra.ExactArgs(2),
		RunE:  runFind,
	}

	runCmd := &cobra.Command{
		Use:   "run <addr>",
		Short: "Run from addr on a fresh baseline instance",
		Args:  cobra.ExactArgs(1),
		RunE:  runOnce,
	}
	runCmd.Flags().Uint64Var(&runUntil, "until", 0, "stop address (0 runs until a limit or fault)")
	runCmd.Flags().Uint64VarP(&runCount, "num", "n", 0, "instruction limit, overrides the config")
	runCmd.Flags().BoolVarP(&runTrace, "trace", "t", false, "print every recorded event")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run random entry points across a worker pool",
		Args:  cobra.NoArgs,
		RunE:  runSweep,
	}
	sweepCmd.Flags().IntVarP(&sweepJobs, "jobs", "j", 256, "number of runs")
	sweepCmd.Flags().IntVarP(&sweepWorkers, "workers", "w", 0, "pool size, overrides the config")

	rootCmd.AddCommand(infoCmd, findCmd, runCmd, sweepCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath)
	} else {
		var dir string
		if dir, err = config.Dir(); err == nil {
			cfg, err = config.LoadDir(dir)
		}
	}
	if err != nil {
		return nil, err
	}

	if binary != "" {
		abs, err := filepath.Abs(binary)
		if err != nil {
			return nil, fmt.Errorf("resolve path: %w", err)
		}
		cfg.Binary = abs
	}
	if arch != "" {
		cfg.Arch = arch
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if verbose {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadOracle() (*config.Config, *oracle.Oracle, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	o, err := oracle.FromConfig(cfg, glog.Default())
	if err != nil {
		return nil, nil, err
	}
	return cfg, o, nil
}

// parseUint accepts decimal or 0x-prefixed hex.
func parseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", s)
	}
	return v, nil
}

func showInfo(cmd *cobra.Command, args []string) error {
	cfg, o, err := loadOracle()
	if err != nil {
		return err
	}
	img, err := o.Image()
	if err != nil {
		return err
	}

	fmt.Printf("%s %s\n", colorize.Header("▶"), filepath.Base(cfg.Binary))
	fmt.Printf("  %s %s  %s %s\n",
		colorize.Detail("Target:"), o.Target(),
		colorize.Detail("Digest:"), fmt.Sprintf("%016x", image.Digest(img.Segments())))
	fmt.Printf("  %s %s", colorize.Detail("Seed:"), o.Seed())

	fmt.Println()
	fmt.Println(colorize.Header("Segments"))
	for _, s := range img.Segments() {
		fmt.Printf("  %s  %s  %-6s %s\n",
			colorize.Address(s.Address), colorize.Detail(fmt.Sprintf("%#8x", s.Size)), s.Type, s)
	}

	if hs := img.Headers(); len(hs) > 0 {
		fmt.Println()
		fmt.Println(colorize.Header("Headers"))
		for _, s := range hs {
			fmt.Printf("  %s  %s  %-6s %s\n",
				colorize.Address(s.Address), colorize.Detail(fmt.Sprintf("%#8x", s.Size)), s.Type, s.Perm)
		}
	}

	st := img.Stack()
	fmt.Println()
	fmt.Printf("%s %s -- %s\n", colorize.Detail("Stack:"),
		colorize.Address(st.AlignedStart()), colorize.Address(st.AlignedEnd()))
	return nil
}

func runFind(cmd *cobra.Command, args []string) error {
	addr, err := parseUint(args[0])
	if err != nil {
		return err
	}
	size, err := parseUint(args[1])
	if err != nil {
		return err
	}
	_, o, err := loadOracle()
	if err != nil {
		return err
	}
	data, ok, err := o.Find(addr, size)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s+%#x is not inside one segment", glog.Hex(addr), size)
	}
	fmt.Print(hex.Dump(data))
	return nil
}

func runOnce(cmd *cobra.Command, args []string) error {
	addr, err := parseUint(args[0])
	if err != nil {
		return err
	}
	cfg, o, err := loadOracle()
	if err != nil {
		return err
	}
	emu, err := o.NewEmulator()
	if err != nil {
		return err
	}
	defer emu.Close()

	rec := trace.NewRecorder(trace.Disassembler(o.Target()))
	if err := rec.Attach(emu); err != nil {
		return err
	}

	count := cfg.Run.Instructions
	if runCount > 0 {
		count = runCount
	}
	reason, runErr := emu.Start(addr, runUntil, cfg.Run.Timeout, count)
	if err := rec.Detach(); err != nil {
		return err
	}

	events := rec.Events()
	if runTrace && !quiet {
		for i := range events {
			fmt.Println(colorize.Event(&events[i]))
			if events[i].Tags.Has(trace.Return) {
				fmt.Println()
			}
		}
	}

	if !quiet {
		printRegisters(emu)
	}
	printStats(rec, reason, runErr)

	var fault *emulator.ExecFault
	if runErr != nil && !errors.As(runErr, &fault) {
		return runErr
	}
	return nil
}

func printRegisters(emu *emulator.Emulator) {
	regs, err := emu.GeneralRegisters()
	if err != nil {
		return
	}
	names := emu.Target().RegisterNames()
	fmt.Println()
	var line []string
	for i, v := range regs {
		line = append(line, fmt.Sprintf("%s=%s", colorize.Detail(names[i]), glog.Hex(v)))
		if len(line) == 4 {
			fmt.Println("  " + strings.Join(line, "  "))
			line = line[:0]
		}
	}
	if len(line) > 0 {
		fmt.Println("  " + strings.Join(line, "  "))
	}
}

func printStats(rec *trace.Recorder, reason emulator.StopReason, err error) {
	fmt.Println()
	fmt.Print(colorize.Border("───────────────────────────────────────── "))
	fmt.Printf("%d insn  %d write  %d intr  %s",
		rec.Count(trace.Exec), rec.Count(trace.Write), rec.Count(trace.Intr), reason)
	if rec.Truncated() {
		fmt.Printf("  %s", colorize.Detail("truncated"))
	}
	if err != nil {
		fmt.Printf("  %s", colorize.Error(err.Error()))
	}
	fmt.Println()
}

// sweepStats tallies how sweep runs ended.
type sweepStats struct {
	mu      sync.Mutex
	reasons map[string]int
	insns   int
}

func (s *sweepStats) add(reason string, insns int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasons[reason]++
	s.insns += insns
}

// execSegments returns the executable Load segments of img.
func execSegments(img *image.MemImage) []image.Segment {
	var out []image.Segment
	for _, s := range img.Segments() {
		if s.Loadable() && s.Perm.Has(image.PermExec) && s.Size > 0 {
			out = append(out, s)
		}
	}
	return out
}

// pickEntry chooses an instruction-aligned address inside one of segs.
func pickEntry(w *workers.Worker, segs []image.Segment, width uint64) uint64 {
	s := segs[w.Rand.IntN(len(segs))]
	off := w.Rand.Uint64N(s.Size)
	return image.AlignDown(s.Address+off, width)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, o, err := loadOracle()
	if err != nil {
		return err
	}
	img, err := o.Image()
	if err != nil {
		return err
	}
	segs := execSegments(img)
	if len(segs) == 0 {
		return errors.New("no executable segment")
	}

	size := cfg.Workers
	if sweepWorkers > 0 {
		size = sweepWorkers
	}
	pool := workers.New(o, size, glog.Default())
	stats := &sweepStats{reasons: make(map[string]int)}

	err = pool.Run(context.Background(), sweepJobs, func(ctx context.Context, w *workers.Worker, emu *emulator.Emulator, job int) error {
		width, err := emu.RiscWidth()
		if errors.Is(err, emulator.ErrMode) {
			width = o.Target().WordSize()
		} else if err != nil {
			return err
		}
		entry := pickEntry(w, segs, uint64(width))

		rec := trace.NewRecorder()
		if err := rec.Attach(emu); err != nil {
			return err
		}
		reason, runErr := emu.Start(entry, 0, cfg.Run.Timeout, cfg.Run.Instructions)
		if err := rec.Detach(); err != nil {
			return err
		}

		key := reason.String()
		var fault *emulator.ExecFault
		switch {
		case errors.As(runErr, &fault):
			key = fault.Kind.String() + " fault"
		case runErr != nil:
			return runErr
		}
		stats.add(key, rec.Count(trace.Exec))
		if verbose {
			fmt.Printf("  [%4d] w%d %s %s\n", job, w.ID, colorize.Address(entry), key)
		}
		return nil
	})
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(stats.reasons))
	for k := range stats.reasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Print(colorize.Border("───────────────────────────────────────── "))
	fmt.Printf("%d runs  %d insn  %d workers\n", sweepJobs, stats.insns, pool.Size())
	for _, k := range keys {
		fmt.Printf("  %-16s %d\n", k, stats.reasons[k])
	}
	return nil
}
