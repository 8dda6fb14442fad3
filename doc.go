// Package fieldtrial implements a device-local experiment enrollment
// engine.
//
// A Client owns a SQLite database of enrollment state and decides, per
// experiment, whether this device participates and in which branch. All
// decisions are deterministic: the same catalog, the same randomization
// unit values, and the same stored state always produce the same
// enrollments, on any device and in any order of delivery.
//
// LIFECYCLE:
//
// 1. New validates the configuration and wires the collaborators.
// 2. Initialize opens the database and loads the snapshot. Nothing else
// works before it.
// 3. FetchExperiments (or SetExperimentsLocally) stages a validated
// catalog in a pending slot without touching enrollment state.
// 4. ApplyPendingExperiments evolves every enrollment against the staged
// catalog in one transaction and returns the change events.
// 5. Close releases the database.
//
// The fetch/apply split exists so the embedding application controls
// when user-visible experiment changes land. Fetch on a timer, apply at
// a quiet moment. UpdateExperiments runs both for callers that do not
// care.
//
// ENROLLMENT MODEL:
//
// Each experiment the device has ever seen leaves an enrollment record:
// enrolled, not-enrolled, disqualified, or was-enrolled, each with a
// reason code. Records are append-only in spirit; transitions follow a
// fixed state machine and every user-visible transition yields a
// ChangeEvent the application can forward to telemetry. Records for
// experiments that left the catalog are kept for thirty days and then
// garbage collected.
//
// Membership and branch assignment hash the experiment's randomization
// unit into 10000 buckets (SHA-256, domain separated), so rollout
// percentages hold across the population without any server-side
// coordination.
//
// CONCURRENCY:
//
// A Client is safe for concurrent use. Getters read an in-memory
// snapshot under a read lock and never block on I/O; mutating calls
// serialize through a write lock and commit through SQLite before the
// snapshot moves. FetchExperiments performs its network call outside
// the lock.
package fieldtrial
