package command

import "fmt"

// LogEntry is one replicated record of the consensus log, identified by (Term, Index).
//
// Data holds the encoded command as stored in the log. For WriteChunk this is the
// stripped variant without payload. Payload is the state machine data the transport
// ships next to the entry, it is nil when only the log record is available
// (e.g. the entry was re-read from the local log).
type LogEntry struct {
	Term    uint64
	Index   uint64
	Data    []byte
	Payload []byte
}

func (e LogEntry) String() string {
	return fmt.Sprintf("(t:%d, i:%d)", e.Term, e.Index)
}

// TermIndex is a (term, index) position in the log.
type TermIndex struct {
	Term  uint64
	Index uint64
}

func (ti TermIndex) String() string {
	return fmt.Sprintf("(t:%d, i:%d)", ti.Term, ti.Index)
}
