// Package experiment defines the data model shared by every fieldtrial
// component: the server-supplied catalog types (Experiment, Branch,
// BucketConfig), the per-device evaluation inputs (AppContext), and the
// persisted enrollment state (EnrollmentRecord, ChangeEvent).
//
// This package contains type definitions and pure helpers only. All other
// packages import experiment; experiment imports nothing internal. This
// keeps the model the foundational layer with no circular dependencies.
//
// Two wire contracts live here:
//   - Catalog types use camelCase JSON tags matching the server payload
//     schema (see internal/schema for validation).
//   - EnrollmentRecord and ChangeEvent use snake_case JSON tags; record
//     JSON is what the store persists, so changes to those types or to the
//     reason strings are storage migrations.
package experiment
