package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/acceldata-io/ozone-sub000/lib/command"
)

// --------------------------------------------------------------------------
// Status codes
// --------------------------------------------------------------------------

// Status is the outcome of a dispatched command as reported by the storage layer.
type Status uint32

const (
	StatusSuccess                 Status = iota // 0: Command executed successfully.
	StatusContainerNotOpen                      // 1: Target container exists but is not open.
	StatusClosedContainerIO                     // 2: IO against an already closed container.
	StatusContainerNotFound                     // 3: Target container does not exist.
	StatusContainerExists                       // 4: Container was already created.
	StatusNoSuchBlock                           // 5: Block is unknown.
	StatusChunkFileInconsistency                // 6: Chunk data on disk does not match the metadata.
	StatusIOException                           // 7: Generic IO failure.
	StatusInvalidArgument                       // 8: Malformed request reached the storage layer.
	StatusContainerInternalError                // 9: Anything else.
	StatusContainerUnhealthy                    // 10: The container has been marked unhealthy.
)

var statusNames = map[Status]string{
	StatusSuccess:                "SUCCESS",
	StatusContainerNotOpen:       "CONTAINER_NOT_OPEN",
	StatusClosedContainerIO:      "CLOSED_CONTAINER_IO",
	StatusContainerNotFound:      "CONTAINER_NOT_FOUND",
	StatusContainerExists:        "CONTAINER_EXISTS",
	StatusNoSuchBlock:            "NO_SUCH_BLOCK",
	StatusChunkFileInconsistency: "CHUNK_FILE_INCONSISTENCY",
	StatusIOException:            "IO_EXCEPTION",
	StatusInvalidArgument:        "INVALID_ARGUMENT",
	StatusContainerInternalError: "CONTAINER_INTERNAL_ERROR",
	StatusContainerUnhealthy:     "CONTAINER_UNHEALTHY",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint32(s))
}

// ParseStatus converts a status name (case-insensitive) back into a Status.
func ParseStatus(name string) (Status, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

// StatusSet is an allow-list of statuses. It is used to keep the set of
// recoverable dispatcher statuses configurable instead of hard-coded.
type StatusSet map[Status]struct{}

// NewStatusSet creates a set from the given statuses.
func NewStatusSet(statuses ...Status) StatusSet {
	set := make(StatusSet, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return set
}

// ParseStatusSet parses a comma separated list of status names.
func ParseStatusSet(list string) (StatusSet, error) {
	set := StatusSet{}
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		s, err := ParseStatus(part)
		if err != nil {
			return nil, err
		}
		set[s] = struct{}{}
	}
	return set, nil
}

// DefaultRecoverableStatuses returns the statuses that do not indicate a broken replica.
func DefaultRecoverableStatuses() StatusSet {
	return NewStatusSet(StatusContainerNotOpen, StatusClosedContainerIO)
}

func (set StatusSet) Contains(s Status) bool {
	_, ok := set[s]
	return ok
}

func (set StatusSet) String() string {
	names := make([]string, 0, len(set))
	for s := range set {
		names = append(names, s.String())
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// --------------------------------------------------------------------------
// Dispatch types
// --------------------------------------------------------------------------

// Stage tells the storage layer which part of a two phase write is executed.
type Stage uint8

const (
	StageCombined   Stage = iota // Single step (every command except WriteChunk)
	StageWriteData               // WriteChunk payload write before commit
	StageCommitData              // WriteChunk metadata commit after consensus
	StageReadOnly                // Read-only query, not part of the log
)

func (s Stage) String() string {
	switch s {
	case StageCombined:
		return "Combined"
	case StageWriteData:
		return "WriteData"
	case StageCommitData:
		return "CommitData"
	case StageReadOnly:
		return "ReadOnly"
	default:
		return "Unknown"
	}
}

// DispatchContext carries the log position of the dispatched command.
type DispatchContext struct {
	Term  uint64
	Index uint64
	Stage Stage
}

// Result is the reply of the storage layer for a single command.
type Result struct {
	Status  Status
	Message string
	Payload []byte // data for read commands
}

func (r Result) IsSuccess() bool {
	return r.Status == StatusSuccess
}

func (r Result) String() string {
	if r.Message == "" {
		return r.Status.String()
	}
	return fmt.Sprintf("%s: %s", r.Status, r.Message)
}

// Success builds a successful Result.
func Success(payload []byte) Result {
	return Result{Status: StatusSuccess, Payload: payload}
}

// Failure builds a failed Result.
func Failure(status Status, format string, args ...interface{}) Result {
	return Result{Status: status, Message: fmt.Sprintf(format, args...)}
}

// --------------------------------------------------------------------------
// Collaborator interfaces
// --------------------------------------------------------------------------

// Dispatcher executes container commands against the storage engine.
type Dispatcher interface {
	// Dispatch executes the command. It never returns an error, failures are expressed
	// through the status of the Result.
	Dispatch(ctx context.Context, cmd *command.Command, dc DispatchContext) Result
}

// ContainerLocation describes where a container lives on this node.
type ContainerLocation struct {
	ContainerID uint64
	Volume      string
}

// ContainerController manages container lifecycle outside of the replicated log.
type ContainerController interface {
	// MarkForClose moves an open container into the closing state.
	MarkForClose(containerID uint64) error
	// QuasiClose moves a container into the degraded quasi-closed state.
	QuasiClose(containerID uint64, reason string) error
	// GetContainerLocation returns the location of a container, ok=false if unknown.
	GetContainerLocation(containerID uint64) (loc ContainerLocation, ok bool)
	// ReconcileContainers compares the expected containerID -> BCSID map (from a snapshot)
	// with the containers present on disk and returns the ids that are missing.
	ReconcileContainers(expected map[uint64]uint64) (missing []uint64, err error)
}
