// Package manager is the orchestration core of batchd. A single background
// loop admits requests from upstream, lets an Executor advance them one step
// at a time and hands finished results back. It is structured into small
// files by concern:
//
//   - manager.go: Manager type, constructor, Close and simple getters.
//   - config.go: ManagerConfig, callbacks and package defaults.
//   - loop.go: the fetch, step, return and poll phases and the drain on stop.
//   - builder.go: RawRequest validation and sampling defaults (BuildRequest).
//   - table.go: RequestTable and the ActiveView handed to executors.
//   - types.go: Request record, Response, loop states and Snapshot.
//   - errors.go: error types and helpers (IsValidation, IsTooBusy, IsDropped).
//   - executor.go: Executor capability and the backend registry.
//   - executor_sim.go, kvcache.go: deterministic decoder over a paged KV block pool.
//   - executor_echo.go: prompt replay backend with slot leases.
//   - events.go, eventpub_memory.go, eventpub_log.go, metrics.go: observability.
//   - status_report.go: Snapshot/Status reporting helpers.
//
// The request table is owned by the loop goroutine. Executors touch records
// only from inside Step; everything else observes the manager through
// Snapshot, Status and the response callback.
package manager
