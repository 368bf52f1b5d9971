/*
Package cachestore provides the key-value cache store backing Bastion's
role cache.

The store contract has two properties the rest of the system depends
on:

  - Per-key TTL: every value can carry a lease. An expired lease reads
    as absent; the cache is therefore never mistaken for a durable
    record.
  - Atomic multi-key operations: Atomic(fn) executes fn as a single
    indivisible unit. A racing reader can never observe some of its
    mutations without the rest. Cross-process correctness lives here,
    not in application-level locks.

# Implementations

BoltStore persists entries in a BoltDB file. Every bbolt write
transaction is serialized by the database itself, which makes
db.Update the atomic scripted primitive the contract asks for. Values
are stored inside a small JSON envelope carrying the expiry; reads
treat expired envelopes as misses, and an optional background sweeper
reclaims the space they occupy.

MemStore is a mutex-guarded map used by tests and dev mode. It stages
Atomic mutations and commits them under the store lock, counts every
store operation (so tests can prove a code path made zero calls), and
can be forced into failure mode to exercise degraded-cache paths.

# Usage

	store, err := cachestore.NewBoltStore(dataDir)
	if err != nil {
		return err
	}
	defer store.Close()
	store.StartSweeper(time.Minute)

	err = store.Atomic(ctx, func(tx cachestore.Txn) error {
		version, err := tx.Increment("user:42:role:version")
		if err != nil {
			return err
		}
		return tx.Set("user:42:role", payload(version), 30*time.Second)
	})

Counters written through Txn.Increment never expire on their own; the
caller deletes them together with the keys they version.
*/
package cachestore
