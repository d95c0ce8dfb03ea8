// Package scheduler arranges for every active giveaway to be terminated at
// its expiry.
//
// It keeps one timer per giveaway, rebuilt from the store at startup by
// RecoverAll; the store is the only durable record. Firing hands the work to
// the task engine, which retries failures. A periodic sweep catches anything
// a timer missed: overdue giveaways whose termination failed, and giveaways
// created by another process sharing the store.
//
// Duplicate fires are harmless. The engine refuses a second end task for a
// key while one is queued or running, and the store's compare-and-set makes
// any remaining duplicate a no-op.
package scheduler
