// Package csm implements the replicated state machine of a container replication group.
//
// A WriteChunk travels through the state machine in two steps. Prepare strips the payload
// from the command so the log only carries metadata, the leader keeps the full request in a
// TransactionContext. Once the entry is appended, Write pushes the payload into storage on
// one of the write workers, ahead of the commit. Apply then commits the metadata, it waits
// for the payload write of the same index before it dispatches.
//
// Committed entries are applied through a per-container queue: entries of one container
// run in log order, containers run in parallel on the apply workers. A semaphore bounds
// the number of entries that were handed to Apply but not applied yet.
//
// The leader caches payloads for followers that are catching up (see Read). Entries leave
// the cache once the followers acknowledged them according to the eviction policy, on log
// compaction and truncation, and all at once when leadership is lost.
//
// Storage failures fall into three classes. Success and recoverable statuses (a configurable
// set) are returned to the caller. Any other status, and every disagreement between the log
// and storage, marks the replica unhealthy. An unhealthy replica refuses to snapshot and asks
// the GroupCloser to tear the replication group down. There is no local retry.
//
// Snapshots persist the containerID -> block commit sequence id map, named by term and
// index so the newest one sorts last.
package csm
