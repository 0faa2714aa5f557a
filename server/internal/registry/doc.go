// Package registry is the hub's connection registry: the table of client
// records keyed by connection id.
//
// The table is split into shards, each guarded by its own RWMutex, so
// operations on different connections rarely contend. Get and List return
// copies; Update is the only way to mutate a stored record and runs its
// mutator under the shard's write lock. Operations on an unknown id report
// ErrNotFound (or ok == false) and never panic: callers treat that as the
// peer having disconnected mid-operation.
package registry
