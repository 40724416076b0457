package command

// QueryType defines the possible read-only queries for the state machine.
type QueryType uint8

const (
	QueryTDispatch  QueryType = iota // Run a read-only command (ReadChunk, GetBlock) against the storage layer.
	QueryTCommitMap                  // Retrieve a copy of the containerID -> BCSID map.
	QueryTHealth                     // Retrieve the health state of the state machine.
	QueryTStats                      // Retrieve latency and throughput statistics.
)

func (q QueryType) String() string {
	switch q {
	case QueryTDispatch:
		return "Dispatch"
	case QueryTCommitMap:
		return "CommitMap"
	case QueryTHealth:
		return "Health"
	case QueryTStats:
		return "Stats"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead or StaleRead
type Query struct {
	Type    QueryType // The type of Query to perform.
	Command *Command  // The read-only command (QueryTDispatch only).
}
