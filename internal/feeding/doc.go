// Package feeding implements the feeding sequence engine.
//
// A Machine drives one dispenser: it starts the motor, waits for the
// position sensor to report the end of each cycle, and retries a round
// when no food came out. A Job fans one feeding request out across a set
// of machines and reports completion exactly once. The Coordinator lets
// at most one Job run at a time and keeps the summary of the last one.
//
// # Concurrency
//
// Every Machine owns a single event loop goroutine. Timers and sensor
// pulses are turned into events on that loop, so machine state is never
// shared. Timers carry a token; a timer that fires after it was cancelled
// or replaced finds a different token and does nothing.
//
// Observers are called on the machine's loop goroutine and must not block.
// The Coordinator forwards transitions to its Listener from a dedicated
// dispatch goroutine so slow collaborators (serial display, MQTT) never
// stall a machine.
//
// # Usage
//
//	m := feeding.NewMachine("left", hw, feeding.DefaultTiming())
//	coord := feeding.NewCoordinator(listener)
//	job, _ := feeding.NewJob(2, []feeding.SequenceRunner{m}, feeding.WithTrigger(feeding.TriggerManual))
//	if !coord.TryRun(job) {
//	    // another job is active, the request is dropped
//	}
package feeding
