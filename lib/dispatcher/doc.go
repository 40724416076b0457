// Package dispatcher defines the contracts between the container state machine and the
// storage layer underneath it.
//
// The state machine never talks to the storage engine directly. Every command that is
// applied from the log is handed to a Dispatcher together with a DispatchContext that
// names the log position and the stage of the command:
//
//   - StageWriteData: the payload of a WriteChunk is written ahead of consensus commit.
//   - StageCommitData: the WriteChunk metadata is committed once the entry is committed.
//   - StageCombined: every other replicated command.
//   - StageReadOnly: queries that never touch the log.
//
// The outcome is a Result whose Status falls into one of three classes:
// success, recoverable (listed in a configurable StatusSet, by default
// CONTAINER_NOT_OPEN and CLOSED_CONTAINER_IO) and fatal (everything else).
// Fatal results mark the replica unhealthy.
//
// The ContainerController is used outside of the log: on replication group teardown
// (mark for close, quasi close) and on snapshot load (reconcile expected containers).
//
// An in-memory implementation of both interfaces lives in the memdispatcher sub package.
package dispatcher
