// Package orchestrator drives specification workflows through their phase
// gates.
//
// # Overview
//
// A workflow produces three documents in order and stops after each one for
// a human decision:
//
//	requirements → approve → design → approve → tasks → approve → final documents
//
// Each stop is an approval gate. Approving advances to the next phase,
// revising regenerates the same phase with the reviewer's feedback, and
// rejecting cancels the workflow.
//
// # Key Components
//
// ## Driver
//
// The Driver repeatedly asks workflow.Decide what to do with a record and
// acts on the answer:
//   - Generate: one generation.Coordinator call; failures are counted on the
//     record and the loop re-decides until the retry ceiling trips
//   - Finalize: render, redact, write to disk, complete
//   - Wait / Terminate: return the record
//
// The Driver also owns the lifecycle operations exposed to clients: Start,
// Reset, Cancel, Delete, Status and List.
//
// ## Gate
//
// The Gate applies approve, revise and reject decisions atomically through
// the record store. It never runs generation itself; callers enqueue a run
// after a decision that needs one.
//
// ## Runner
//
// The Runner is the handoff between request handlers and the Driver. Enqueue
// returns a Receipt immediately; workers execute Driver.Run in the
// background, at most one loop per workflow at a time. Results are observed
// by re-reading the record.
//
// ## Events and Metrics
//
// Lifecycle events are published best-effort to NATS on
// <prefix>.workflow.<id>.<event>. Prometheus metrics cover transitions,
// generation latency, retries, approvals and queue depth.
//
// ## Sweeper
//
// When approval timeouts are enforced, the Sweeper cancels workflows left
// awaiting a decision for longer than the configured timeout.
//
// # Usage Example
//
//	store := workflow.NewMemoryStore()
//	coord := generation.New(store, llm.NewRegistry(llmCfg))
//	driver := orchestrator.NewDriver(store, coord, renderer, writer)
//	runner := orchestrator.NewRunner(driver, 4, 64)
//	defer runner.Stop(ctx)
//
//	rec, _ := driver.Start(ctx, orchestrator.StartRequest{
//	    FeatureName: "User Login",
//	    Description: "Email and password login",
//	})
//	runner.Enqueue(rec.ID, orchestrator.JobStart)
package orchestrator
