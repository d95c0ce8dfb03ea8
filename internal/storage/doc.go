// Package storage persists giveaways, their entries and the operator audit
// log.
//
// Three drivers share one contract:
//   - sqlite: a local file, one writer connection, IMMEDIATE transactions
//   - redis: hashes and sorted sets mutated by Lua scripts
//   - postgres: row locks inside pgx transactions
//
// Every driver applies the Active to Ended transition as a compare-and-set:
// of any number of concurrent End calls exactly one reports applied.
// Entry additions and removals check the state in the same atomic step, so
// no entry lands after the transition.
//
// Message references are stored escaped (see EscapeKey) so a reference can
// embed separators used by key layouts.
package storage
