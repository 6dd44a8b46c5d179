package main

import (
	"fmt"
	"os"

	"github.com/sarchlab/nocsim/imagestore"
	"github.com/sarchlab/nocsim/noc"
	"github.com/sarchlab/nocsim/simulation"
	"github.com/sarchlab/nocsim/workload"
	"github.com/spf13/cobra"
)

type runOptions struct {
	rows           int
	columns        int
	pageShift      uint
	memoryBlocks   int
	blockSize      string
	localSize      string
	admissionLimit int
	serviceDelay   int
	transitDelay   int
	clockTicks     uint64
	clockWipe      int
	blockReport    bool

	workload string
	stride   uint64
	count    int
	rounds   int
	ticks    int

	monitor     bool
	monitorPort int
	browser     bool
	record      bool
	output      string
	sampleEvery uint64
	parallelIDs bool

	imageDB   string
	loadImage string
	saveImage string
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a workload on a grid.",
	Long: "`run` builds a grid, runs the selected workload on every tile and " +
		"prints the per-tile counters.",
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return applyEnv(cmd)
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runSimulation(cmd, runOpts)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.IntVar(&runOpts.rows, "rows", 2, "Rows of tiles")
	f.IntVar(&runOpts.columns, "columns", 4, "Columns of tiles")
	f.UintVar(&runOpts.pageShift, "page-shift", 10, "Log2 of the page size")
	f.IntVar(&runOpts.memoryBlocks, "memory-blocks", 1,
		"Number of backing memory blocks, one fabric each")
	f.StringVar(&runOpts.blockSize, "block-size", "1M",
		"Size of each backing memory block")
	f.StringVar(&runOpts.localSize, "local-size", "16K",
		"Size of the local memory of each tile")
	f.IntVar(&runOpts.admissionLimit, "admission-limit", 4,
		"Packets the memory controller services at once")
	f.IntVar(&runOpts.serviceDelay, "service-delay", 50,
		"Ticks to service a read, doubled for writes")
	f.IntVar(&runOpts.transitDelay, "transit-delay", 8,
		"Ticks to reach the memory controller")
	f.Uint64Var(&runOpts.clockTicks, "clock-ticks", 40000,
		"Ticks between two CLOCK sweeps")
	f.IntVar(&runOpts.clockWipe, "clock-wipe", 8,
		"Frames cleared by one CLOCK sweep")
	f.BoolVar(&runOpts.blockReport, "block-report", false,
		"Print the contended retries of every round")

	f.StringVar(&runOpts.workload, "workload", "stride",
		"Workload to run: stride or idle")
	f.Uint64Var(&runOpts.stride, "stride", 256, "Bytes between two accesses")
	f.IntVar(&runOpts.count, "count", 16, "Accesses per round and tile")
	f.IntVar(&runOpts.rounds, "rounds", 4, "Rounds of the stride workload")
	f.IntVar(&runOpts.ticks, "ticks", 1000, "Ticks of the idle workload")

	f.BoolVar(&runOpts.monitor, "monitor", false, "Serve the monitoring page")
	f.IntVar(&runOpts.monitorPort, "monitor-port", 0,
		"Port of the monitoring page, random if 0")
	f.BoolVar(&runOpts.browser, "open-browser", false,
		"Open the monitoring page in a browser")
	f.BoolVar(&runOpts.record, "record", false,
		"Record the rounds and faults into a SQLite database")
	f.StringVar(&runOpts.output, "output", "",
		"Name of the SQLite database, random if empty")
	f.Uint64Var(&runOpts.sampleEvery, "sample-every", 1000,
		"Record one uncontended round out of this many")
	f.BoolVar(&runOpts.parallelIDs, "parallel-ids", false,
		"Give packets xids instead of sequential numbers")

	f.StringVar(&runOpts.imageDB, "image-db", "nocsim_images.db",
		"Database of memory images")
	f.StringVar(&runOpts.loadImage, "load-image", "",
		"Restore the backing memory from this image before running")
	f.StringVar(&runOpts.saveImage, "save-image", "",
		"Save the backing memory under this image after running")
}

func (o runOptions) gridBuilder() (noc.Builder, error) {
	blockSize, err := parseSize(o.blockSize)
	if err != nil {
		return noc.Builder{}, err
	}

	localSize, err := parseSize(o.localSize)
	if err != nil {
		return noc.Builder{}, err
	}

	b := noc.MakeBuilder().
		WithRows(o.rows).
		WithColumns(o.columns).
		WithPageShift(o.pageShift).
		WithMemoryBlocks(o.memoryBlocks, blockSize).
		WithLocalMemorySize(localSize).
		WithAdmissionLimit(o.admissionLimit).
		WithServiceDelay(o.serviceDelay).
		WithTransitDelay(o.transitDelay).
		WithClockTicks(o.clockTicks).
		WithClockWipe(o.clockWipe)

	if o.blockReport {
		b = b.WithBlockReport()
	}

	if o.workload == "stride" {
		if o.stride == 0 || o.stride%8 != 0 {
			return noc.Builder{}, fmt.Errorf(
				"stride %d is not a positive multiple of 8", o.stride)
		}

		span := o.stride * uint64(o.count) * uint64(o.rows*o.columns)
		pageSize := uint64(1) << o.pageShift
		b = b.WithHeapPages(int((span + pageSize - 1) / pageSize))
	}

	return b, nil
}

func (o runOptions) simulationBuilder(g noc.Builder) simulation.Builder {
	b := simulation.MakeBuilder().
		WithGrid(g).
		WithSampleInterval(o.sampleEvery)

	if o.parallelIDs {
		b = b.WithParallelIDs()
	}

	if o.monitor {
		b = b.WithMonitorPort(o.monitorPort)
		if o.browser {
			b = b.WithBrowser()
		}
	} else {
		b = b.WithoutMonitoring()
	}

	if o.record {
		b = b.WithOutputFileName(o.output)
	} else {
		b = b.WithoutRecording()
	}

	return b
}

func runSimulation(cmd *cobra.Command, o runOptions) error {
	g, err := o.gridBuilder()
	if err != nil {
		return err
	}

	s := o.simulationBuilder(g).Build("NoC")
	defer s.Terminate()

	var store *imagestore.Store
	if o.loadImage != "" || o.saveImage != "" {
		store, err = imagestore.Open(o.imageDB)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	if o.loadImage != "" {
		if err := s.LoadImages(store, o.loadImage); err != nil {
			return fmt.Errorf("load image: %w", err)
		}
	}

	switch o.workload {
	case "stride":
		d := &workload.Stride{
			Base:   noc.HeapBase,
			Stride: o.stride,
			Count:  o.count,
			Rounds: o.rounds,
		}
		total := uint64(2 * o.count * o.rounds * s.Grid().NumTiles())

		stop := s.WatchProgress("Accesses", total, d.Accesses)
		s.Run(d)
		stop()

		if d.Mismatches() > 0 {
			return fmt.Errorf("%d reads returned stale data", d.Mismatches())
		}
	case "idle":
		s.Run(workload.Idle{Ticks: o.ticks})
	default:
		return fmt.Errorf("unknown workload %q", o.workload)
	}

	if o.saveImage != "" {
		if err := s.SaveImages(store, o.saveImage); err != nil {
			return fmt.Errorf("save image: %w", err)
		}
	}

	printReport(cmd, s)

	return nil
}

func printReport(cmd *cobra.Command, s *simulation.Simulation) {
	w := cmd.OutOrStdout()
	g := s.Grid()

	fmt.Fprintf(w, "ticks %d, contended retries %d\n",
		g.Now(), s.Counters().TotalBlocks())
	fmt.Fprintf(w, "%6s %10s %10s %10s %10s\n",
		"tile", "hard", "small", "blocks", "ticks")

	for _, t := range g.Tiles() {
		st := t.MMU().Stats()
		fmt.Fprintf(w, "%6d %10d %10d %10d %10d\n",
			st.TileID, st.HardFaults, st.SmallFaults, st.Blocks, st.Ticks)
	}

	for _, f := range g.Fabrics() {
		fmt.Fprintf(w, "%s: %d serviced, at most %d in service\n",
			f.Name(), f.Serviced(), f.MaxInService())
	}

	if v := s.SlotTracer().Violations(); v > 0 {
		fmt.Fprintf(os.Stderr, "slot tracer found %d violations\n", v)
	}
}
