// Package store provides SQLite-backed durable storage for enrollment
// state.
//
// The persisted layout is deliberately small:
//   - meta: the global participation flag
//   - catalogs: two slots, the last-applied and the last-fetched (pending)
//     experiment lists
//   - enrollments: one EnrollmentRecord per experiment slug
//
// # Consistency
//
// The store never exposes partially-written state. Multi-row updates
// (CommitApplied, CommitParticipation) run in a single transaction; a crash
// between writes leaves either the previous or the new committed snapshot,
// never a mix. Reads of absent state return zero values (participation
// defaults to true), while stored bytes that fail to decode surface as
// *CorruptError so callers can distinguish corruption from absence.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//   - single connection: SQLite supports one writer at a time
//
// Schema changes are applied through PRAGMA user_version migrations in
// store.go.
package store
