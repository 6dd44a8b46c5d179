package simulation

import (
	"log"

	"github.com/rs/xid"
	"github.com/sarchlab/nocsim/datarecording"
	"github.com/sarchlab/nocsim/monitoring"
	"github.com/sarchlab/nocsim/noc"
	"github.com/sarchlab/nocsim/sim"
	"github.com/sarchlab/nocsim/tracing"
)

// Builder can be used to build a simulation.
type Builder struct {
	grid           noc.Builder
	monitorOn      bool
	monitorPort    int
	openBrowser    bool
	recordingOn    bool
	outputFileName string
	sampleEvery    uint64
	parallelIDs    bool
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{
		grid:        noc.MakeBuilder(),
		monitorOn:   true,
		recordingOn: true,
		sampleEvery: 1000,
	}
}

// WithGrid sets the grid configuration. The simulation installs its own
// observers, replacing any observer set on the grid builder.
func (b Builder) WithGrid(g noc.Builder) Builder {
	b.grid = g
	return b
}

// WithoutMonitoring sets the simulation to not use monitoring.
func (b Builder) WithoutMonitoring() Builder {
	b.monitorOn = false
	return b
}

// WithMonitorPort sets the port number for the monitoring server.
func (b Builder) WithMonitorPort(port int) Builder {
	b.monitorPort = port
	return b
}

// WithBrowser opens the monitoring page in a browser.
func (b Builder) WithBrowser() Builder {
	b.openBrowser = true
	return b
}

// WithoutRecording sets the simulation to not write a database.
func (b Builder) WithoutRecording() Builder {
	b.recordingOn = false
	return b
}

// WithOutputFileName sets the custom output file name for the data recorder.
func (b Builder) WithOutputFileName(filename string) Builder {
	b.outputFileName = filename
	return b
}

// WithSampleInterval sets how often a round without contention is recorded.
func (b Builder) WithSampleInterval(cycles uint64) Builder {
	b.sampleEvery = cycles
	return b
}

// WithParallelIDs makes the packets carry xids instead of sequential numbers.
func (b Builder) WithParallelIDs() Builder {
	b.parallelIDs = true
	return b
}

func (b Builder) parametersMustBeValid() {
	if !b.monitorOn && (b.monitorPort != 0 || b.openBrowser) {
		log.Panic("monitor options cannot be set when monitoring is disabled")
	}

	if !b.recordingOn && b.outputFileName != "" {
		log.Panic("output file cannot be set when recording is disabled")
	}
}

// Build builds the simulation.
func (b Builder) Build(name string) *Simulation {
	b.parametersMustBeValid()

	if b.parallelIDs {
		sim.UseParallelIDGenerator()
	} else {
		sim.UseSequentialIDGenerator()
	}

	s := &Simulation{
		id:       xid.New().String(),
		counters: tracing.NewCounters(b.grid.NumTiles()),
		slots:    tracing.NewSlotTracer(),
	}

	observers := sim.Observers{s.counters}

	if b.recordingOn {
		outputPath := b.outputFileName
		if outputPath == "" {
			outputPath = "nocsim_" + s.id
		}

		s.dataRecorder = datarecording.New(outputPath)
		s.dbTracer = tracing.NewDBTracer(s.dataRecorder, b.sampleEvery)
		observers = append(observers, s.dbTracer)
	}

	s.grid = b.grid.WithObserver(observers).Build(name)

	for _, f := range s.grid.Fabrics() {
		f.AcceptHook(s.slots)
	}

	if b.monitorOn {
		s.monitor = monitoring.NewMonitor().WithBrowser(b.openBrowser)
		if b.monitorPort > 0 {
			s.monitor.WithPortNumber(b.monitorPort)
		}
		s.monitor.RegisterGrid(s.grid)
		s.monitor.RegisterCounters(s.counters)
		s.monitor.StartServer()
	}

	return s
}
