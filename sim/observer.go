package sim

// An Observer is notified synchronously at well-defined points of the
// simulation. Implementations must be safe for concurrent use, as tiles run in
// their own goroutines.
type Observer interface {
	// OnTickAdvanced is called once per completed round, after the tick
	// counter has advanced to cycle. blocks is the number of contended retries
	// recorded during the round that just completed.
	OnTickAdvanced(cycle uint64, blocks uint64)

	// OnHardFault is called when a tile starts handling a hard page fault.
	OnHardFault(tileID int)

	// OnSmallFault is called each time a tile consults the remote page-table
	// metadata while handling a hard fault.
	OnSmallFault(tileID int)
}

// Observers fans notifications out to a list of observers.
type Observers []Observer

// OnTickAdvanced forwards the notification to all the observers.
func (o Observers) OnTickAdvanced(cycle uint64, blocks uint64) {
	for _, ob := range o {
		ob.OnTickAdvanced(cycle, blocks)
	}
}

// OnHardFault forwards the notification to all the observers.
func (o Observers) OnHardFault(tileID int) {
	for _, ob := range o {
		ob.OnHardFault(tileID)
	}
}

// OnSmallFault forwards the notification to all the observers.
func (o Observers) OnSmallFault(tileID int) {
	for _, ob := range o {
		ob.OnSmallFault(tileID)
	}
}

// NopObserver ignores all notifications.
type NopObserver struct{}

// OnTickAdvanced does nothing.
func (NopObserver) OnTickAdvanced(uint64, uint64) {}

// OnHardFault does nothing.
func (NopObserver) OnHardFault(int) {}

// OnSmallFault does nothing.
func (NopObserver) OnSmallFault(int) {}
