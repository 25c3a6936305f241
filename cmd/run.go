package cmd

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sarchlab/tlbsim/datarecording"
	"github.com/sarchlab/tlbsim/hooking"
	"github.com/sarchlab/tlbsim/mem"
	"github.com/sarchlab/tlbsim/monitoring"
	"github.com/sarchlab/tlbsim/timing"
	"github.com/sarchlab/tlbsim/tlb"
	"github.com/sarchlab/tlbsim/vm"
)

var runFlags = struct {
	l1Size      int
	l2Size      int
	pageBits    uint64
	l1LatencyNS uint64
	l2LatencyNS uint64
	wbLatencyNS uint64

	record     bool
	recordPath string

	monitor     bool
	monitorPort int
	openBrowser bool
}{}

var runCmd = &cobra.Command{
	Use:   "run [trace file]",
	Short: "Replay a trace through the TLB hierarchy",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cmd.SilenceUsage = true

		applyEnvDefaults(cmd)

		events, err := parseTraceFile(args[0])
		if err != nil {
			log.Fatalf("Error reading trace: %v", err)
		}

		replay(events)
	},
}

func init() {
	runCmd.Flags().IntVar(&runFlags.l1Size,
		"l1-size", 16, "number of L1 entries")
	runCmd.Flags().IntVar(&runFlags.l2Size,
		"l2-size", 64, "number of L2 entries")
	runCmd.Flags().Uint64Var(&runFlags.pageBits,
		"page-bits", 12, "page size as a power of 2")
	runCmd.Flags().Uint64Var(&runFlags.l1LatencyNS,
		"l1-latency-ns", 1, "latency of an L1 probe in ns")
	runCmd.Flags().Uint64Var(&runFlags.l2LatencyNS,
		"l2-latency-ns", 4, "latency of an L2 probe in ns")
	runCmd.Flags().Uint64Var(&runFlags.wbLatencyNS,
		"writeback-latency-ns", 100, "latency of a write-back in ns")

	runCmd.Flags().BoolVar(&runFlags.record,
		"record", false, "record per-event data into a SQLite database")
	runCmd.Flags().StringVar(&runFlags.recordPath,
		"record-path", "", "database path, without extension")

	runCmd.Flags().BoolVar(&runFlags.monitor,
		"monitor", false, "serve live state over HTTP while replaying")
	runCmd.Flags().IntVar(&runFlags.monitorPort,
		"monitor-port", 0, "monitoring port, 0 picks a free one")
	runCmd.Flags().BoolVar(&runFlags.openBrowser,
		"open-browser", false, "open the monitoring page in a browser")

	rootCmd.AddCommand(runCmd)
}

// applyEnvDefaults lets TLBSIM_* environment variables, possibly from a
// .env file, override flag defaults. Explicit flags win.
func applyEnvDefaults(cmd *cobra.Command) {
	_ = godotenv.Load()

	if !cmd.Flags().Changed("l1-size") {
		runFlags.l1Size = envInt("TLBSIM_L1_SIZE", runFlags.l1Size)
	}
	if !cmd.Flags().Changed("l2-size") {
		runFlags.l2Size = envInt("TLBSIM_L2_SIZE", runFlags.l2Size)
	}
	if !cmd.Flags().Changed("page-bits") {
		runFlags.pageBits = envUint64("TLBSIM_PAGE_BITS", runFlags.pageBits)
	}
	if !cmd.Flags().Changed("l1-latency-ns") {
		runFlags.l1LatencyNS =
			envUint64("TLBSIM_L1_LATENCY_NS", runFlags.l1LatencyNS)
	}
	if !cmd.Flags().Changed("l2-latency-ns") {
		runFlags.l2LatencyNS =
			envUint64("TLBSIM_L2_LATENCY_NS", runFlags.l2LatencyNS)
	}
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("Error: %s must be an integer, got %q", key, v)
	}

	return n
}

func envUint64(key string, fallback uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	n, err := strconv.ParseUint(v, 0, 64)
	if err != nil {
		log.Fatalf("Error: %s must be an unsigned integer, got %q", key, v)
	}

	return n
}

func replay(events []traceEvent) {
	clock := timing.NewClock()
	pageTable := vm.NewPageTable(runFlags.pageBits)
	backing := mem.NewIdealBackingStore(
		clock, timing.VTimeInNS(runFlags.wbLatencyNS)*timing.NS)

	hierarchy := tlb.MakeBuilder().
		WithL1Size(runFlags.l1Size).
		WithL2Size(runFlags.l2Size).
		WithPageBits(runFlags.pageBits).
		WithL1Latency(timing.VTimeInNS(runFlags.l1LatencyNS) * timing.NS).
		WithL2Latency(timing.VTimeInNS(runFlags.l2LatencyNS) * timing.NS).
		WithPageTable(pageTable).
		WithBackingStore(backing).
		WithClock(clock).
		Build("TLB")

	var recorder datarecording.DataRecorder
	if runFlags.record {
		recorder = datarecording.New(runFlags.recordPath)
		hierarchy.AcceptHook(newRecordingTracer(recorder))
	}

	if runFlags.monitor {
		monitor := monitoring.NewMonitor().
			WithPortNumber(runFlags.monitorPort)
		if runFlags.openBrowser {
			monitor = monitor.WithBrowserLaunch()
		}
		monitor.RegisterHierarchy(hierarchy)
		monitor.RegisterClock(clock)

		err := monitor.StartServer()
		if err != nil {
			log.Fatalf("Error starting monitor: %v", err)
		}
	}

	for _, e := range events {
		switch e.Kind {
		case traceRead:
			hierarchy.Translate(e.Value, vm.OpRead)
		case traceWrite:
			hierarchy.Translate(e.Value, vm.OpWrite)
		case traceInvalidate:
			hierarchy.Invalidate(e.Value)
		}
	}

	if recorder != nil {
		recordSummary(recorder, hierarchy, backing, clock)
	}

	printSummary(hierarchy, backing, clock, len(events))
}

// A recordingTracer records every hierarchy event into a database table.
type recordingTracer struct {
	recorder datarecording.DataRecorder
	seq      uint64
}

type eventRow struct {
	Seq   uint64
	Pos   string
	VPN   uint64
	PAddr uint64
	Dirty bool
}

func newRecordingTracer(r datarecording.DataRecorder) *recordingTracer {
	r.CreateTable("events", eventRow{})
	return &recordingTracer{recorder: r}
}

func (t *recordingTracer) Func(ctx hooking.HookCtx) {
	t.seq++
	row := eventRow{Seq: t.seq, Pos: ctx.Pos.Name}

	switch detail := ctx.Detail.(type) {
	case tlb.AccessDetail:
		row.VPN = detail.VPN
	case tlb.EvictionDetail:
		row.VPN = detail.VPN
		row.PAddr = detail.PAddr
		row.Dirty = detail.Dirty
	case tlb.InvalidationDetail:
		row.VPN = detail.VPN
	}

	t.recorder.InsertData("events", row)
}

type summaryRow struct {
	L1Hits          uint64
	L1Misses        uint64
	L1Invalidations uint64
	L2Hits          uint64
	L2Misses        uint64
	L2Invalidations uint64
	WriteBacks      uint64
	SimulatedTimeNS uint64
}

func recordSummary(
	recorder datarecording.DataRecorder,
	hierarchy *tlb.Comp,
	backing *mem.IdealBackingStore,
	clock timing.Clock,
) {
	stats := hierarchy.Stats()

	recorder.CreateTable("summary", summaryRow{})
	recorder.InsertData("summary", summaryRow{
		L1Hits:          stats.L1Hits,
		L1Misses:        stats.L1Misses,
		L1Invalidations: stats.L1Invalidations,
		L2Hits:          stats.L2Hits,
		L2Misses:        stats.L2Misses,
		L2Invalidations: stats.L2Invalidations,
		WriteBacks:      backing.WriteBackCount(),
		SimulatedTimeNS: uint64(clock.Now()),
	})
	recorder.Flush()
}

func printSummary(
	hierarchy *tlb.Comp,
	backing *mem.IdealBackingStore,
	clock timing.Clock,
	numEvents int,
) {
	stats := hierarchy.Stats()

	color.New(color.Bold).Printf("Replayed %d events\n", numEvents)
	color.Green("  L1 hits:          %d", stats.L1Hits)
	color.Red("  L1 misses:        %d", stats.L1Misses)
	color.Green("  L2 hits:          %d", stats.L2Hits)
	color.Red("  L2 misses:        %d", stats.L2Misses)
	color.Yellow("  L1 invalidations: %d", stats.L1Invalidations)
	color.Yellow("  L2 invalidations: %d", stats.L2Invalidations)
	fmt.Printf("  write-backs:      %d\n", backing.WriteBackCount())
	fmt.Printf("  simulated time:   %s\n", clock.Now())
}
