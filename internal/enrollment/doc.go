// Package enrollment implements the enrollment state machine.
//
// The evolver is the heart of the module - it compares the previously
// applied experiment list, the freshly fetched list, and the stored
// enrollment records, and computes the next record set plus the audit
// events describing every transition.
//
// STATE MACHINE:
//
// Each record moves through four statuses: not-enrolled, enrolled,
// disqualified, was-enrolled. New experiments are evaluated (participation,
// pause, app identity, targeting, bucketing, branch choice); enrolled
// devices are only ever disqualified by opt-out, branch disappearance, or
// a targeting change, never by re-bucketing; disqualified devices do not
// re-qualify while the experiment remains in the catalog; records for
// vanished experiments become was-enrolled and are garbage collected
// thirty days later.
//
// CONTAINMENT:
//
// A broken experiment never poisons the batch. Per-experiment failures
// (bucketing configuration, identifier generation, impossible state
// combinations) are logged and skip only that experiment, preserving its
// previous record if one exists. Targeting failures are an evaluation
// outcome, not a batch error: they yield not-enrolled or disqualified
// records with the error reason.
//
// DETERMINISM:
//
// Evolution visits the union of previous, updated, and recorded slugs in
// ascending order, so the same inputs always produce the same records and
// the same event sequence. Identifier generation and the clock are
// injected for tests.
package enrollment
