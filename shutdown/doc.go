// Package shutdown stops the body's components in a fixed order.
//
// # Phases
//
// Handlers are grouped by phase. Lower phases run first and handlers in one
// phase run concurrently. The body uses:
//
//   - PhaseWeb (10): stop the HTTP server and gateway sessions
//   - PhaseDeregister (20): remove cells from the directory
//   - PhaseBus (30): drain and close the bus
//   - PhaseTelemetry (40): flush traces
//
// # Usage
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	coord.HandleSignals() // SIGTERM, SIGINT
//
//	coord.RegisterFunc("bus", shutdown.PhaseBus, func(ctx context.Context) error {
//	    return b.Close()
//	})
//
//	<-coord.Done()
//
// Shutdown runs once. A failing handler does not stop later phases unless
// ContinueOnError is false. The returned error wraps ErrHandlerFailed and
// names every handler that failed; an expired context yields ErrTimeout.
package shutdown
