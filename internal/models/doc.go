// Package models defines the persisted domain records for GivePool.
//
// The settlement engine (internal/treasury) owns the live epoch accounting
// in memory; these types are the durable, queryable projection of it that
// the sqlite store keeps:
//   - Donor: a registered account that deposits into the pool
//   - AllocationRecord: one allocate-votes call, written through on record
//   - EpochRecord: one settled epoch's summary, written at finalize
//   - DistributionRecord: one beneficiary's payout within a settled epoch
//
// Records are write-once: the engine never mutates history, so neither does
// the store (the single exception is flipping a distribution from pending to
// settled after a successful payout retry).
package models
