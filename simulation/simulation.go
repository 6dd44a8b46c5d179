// Package simulation assembles a grid with its tracers, data recorder and
// monitor.
package simulation

import (
	"errors"
	"fmt"
	"time"

	"github.com/sarchlab/nocsim/datarecording"
	"github.com/sarchlab/nocsim/imagestore"
	"github.com/sarchlab/nocsim/monitoring"
	"github.com/sarchlab/nocsim/noc"
	"github.com/sarchlab/nocsim/tracing"
)

// A Simulation provides the services around one grid.
type Simulation struct {
	id   string
	grid *noc.Grid

	counters     *tracing.Counters
	slots        *tracing.SlotTracer
	dbTracer     *tracing.DBTracer
	dataRecorder datarecording.DataRecorder
	monitor      *monitoring.Monitor
}

// ID returns the unique ID of the simulation.
func (s *Simulation) ID() string {
	return s.id
}

// Grid returns the simulated grid.
func (s *Simulation) Grid() *noc.Grid {
	return s.grid
}

// Counters returns the counters fed by the grid.
func (s *Simulation) Counters() *tracing.Counters {
	return s.counters
}

// SlotTracer returns the tracer hooked to all the fabrics.
func (s *Simulation) SlotTracer() *tracing.SlotTracer {
	return s.slots
}

// GetDataRecorder returns the data recorder. It is nil when recording is
// disabled.
func (s *Simulation) GetDataRecorder() datarecording.DataRecorder {
	return s.dataRecorder
}

// GetMonitor returns the monitor. It is nil when monitoring is disabled.
func (s *Simulation) GetMonitor() *monitoring.Monitor {
	return s.monitor
}

// Run runs the drivers on the grid.
func (s *Simulation) Run(drivers ...noc.Driver) {
	s.grid.Run(drivers...)
}

// WatchProgress shows a progress bar on the monitor that follows finished
// until the returned function is called. Without a monitor it does nothing.
func (s *Simulation) WatchProgress(
	name string,
	total uint64,
	finished func() uint64,
) (stop func()) {
	if s.monitor == nil {
		return func() {}
	}

	bar := s.monitor.CreateProgressBar(name, total)
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)

		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for {
			bar.SetFinished(finished())

			select {
			case <-done:
				return
			case <-ticker.C:
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
		bar.SetFinished(finished())
		s.monitor.CompleteProgressBar(bar)
	}
}

func imageName(prefix string, i int) string {
	return fmt.Sprintf("%s/mem%d", prefix, i)
}

// SaveImages stores every backing memory block of the grid.
func (s *Simulation) SaveImages(store *imagestore.Store, prefix string) error {
	for i, m := range s.grid.Memories() {
		if _, err := store.Save(imageName(prefix, i), m); err != nil {
			return err
		}
	}

	return nil
}

// LoadImages restores the backing memory blocks saved by a grid of the same
// shape. It must be called before Run. Blocks without an image are left
// untouched and reported in the returned error.
func (s *Simulation) LoadImages(store *imagestore.Store, prefix string) error {
	var errs []error

	for i, m := range s.grid.Memories() {
		err := store.Load(imageName(prefix, i), m)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Terminate flushes the recorded data and closes the database.
func (s *Simulation) Terminate() {
	if s.dbTracer != nil {
		s.dbTracer.Terminate()
	}

	if s.dataRecorder != nil {
		s.dataRecorder.Close()
	}
}
