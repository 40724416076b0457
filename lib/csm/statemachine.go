package csm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/acceldata-io/ozone-sub000/lib/cache"
	"github.com/acceldata-io/ozone-sub000/lib/command"
	"github.com/acceldata-io/ozone-sub000/lib/dispatcher"
	"github.com/acceldata-io/ozone-sub000/lib/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var log = logger.GetLogger("csm")

// ContainerStateMachine applies the replicated log of one replication group to the
// containers stored on this node.
type ContainerStateMachine struct {
	name       string
	cfg        Config
	dispatcher dispatcher.Dispatcher
	controller dispatcher.ContainerController
	closer     GroupCloser

	health   atomic.Int32
	isLeader atomic.Bool
	term     atomic.Uint64

	// write pipeline
	cache         *cache.DataCache
	pendingWrites *xsync.MapOf[uint64, *util.Future[dispatcher.Result]]
	writeQueues   []*util.SerialQueue[*writeTask]

	// apply path
	applyPool   *util.WorkerPool
	applyQueues *util.KeyedExecutor[uint64]
	permits     *semaphore.Weighted
	commitMap   *xsync.MapOf[uint64, uint64]
	applied     *appliedTracker

	// snapshot installation runs on its own single worker
	installPool *util.WorkerPool

	readLimiter *rate.Limiter
	metrics     *smMetrics

	// closeMu orders the closing flag against the registration of in-flight work
	closeMu  sync.RWMutex
	closing  bool
	inflight sync.WaitGroup
}

// New creates a state machine for the replication group name. The controller and closer may be nil.
func New(name string, cfg Config, d dispatcher.Dispatcher, controller dispatcher.ContainerController, closer GroupCloser) (*ContainerStateMachine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid state machine config: %w", err)
	}
	if d == nil {
		return nil, errors.New("a dispatcher is required")
	}
	if cfg.RecoverableStatuses == nil {
		cfg.RecoverableStatuses = dispatcher.DefaultRecoverableStatuses()
	}

	s := &ContainerStateMachine{
		name:          name,
		cfg:           cfg,
		dispatcher:    d,
		controller:    controller,
		closer:        closer,
		cache:         cache.NewDataCache(cfg.CacheBytes),
		pendingWrites: xsync.NewMapOf[uint64, *util.Future[dispatcher.Result]](),
		applyPool:     util.NewWorkerPool(cfg.ApplyWorkers, cfg.ApplyWorkers),
		permits:       semaphore.NewWeighted(int64(cfg.MaxPendingApply)),
		commitMap:     xsync.NewMapOf[uint64, uint64](),
		applied:       newAppliedTracker(),
		installPool:   util.NewWorkerPool(1, 1),
	}
	s.applyQueues = util.NewKeyedExecutor[uint64](s.applyPool)

	s.writeQueues = make([]*util.SerialQueue[*writeTask], cfg.WriteWorkers)
	for i := range s.writeQueues {
		s.writeQueues[i] = util.NewSerialQueue[*writeTask](s.runWrite)
	}

	if cfg.ReadBytesPerSecond > 0 {
		s.readLimiter = rate.NewLimiter(rate.Limit(cfg.ReadBytesPerSecond), cfg.ReadBytesPerSecond)
	}
	s.metrics = newMetrics(name, s)

	log.Infof("[%s] state machine created (write workers=%d, apply workers=%d, max pending=%d, cache=%d bytes, eviction=%s, recoverable=%s)",
		name, cfg.WriteWorkers, cfg.ApplyWorkers, cfg.MaxPendingApply, cfg.CacheBytes, cfg.EvictionPolicy.Name(), cfg.RecoverableStatuses)
	return s, nil
}

// Name returns the name of the replication group.
func (s *ContainerStateMachine) Name() string {
	return s.name
}

// enter registers in-flight work, it fails once Close was called
func (s *ContainerStateMachine) enter() error {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closing {
		return ErrShutdown
	}
	s.inflight.Add(1)
	return nil
}

func (s *ContainerStateMachine) leave() {
	s.inflight.Done()
}

// isRecoverable reports whether a failed status leaves the replica healthy
func (s *ContainerStateMachine) isRecoverable(status dispatcher.Status) bool {
	return s.cfg.RecoverableStatuses.Contains(status)
}

// dispatch calls the storage layer and converts panics into internal errors
func (s *ContainerStateMachine) dispatch(ctx context.Context, cmd *command.Command, dc dispatcher.DispatchContext) (res dispatcher.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[%s] dispatcher panicked on %s at index %d: %v", s.name, cmd.Type, dc.Index, r)
			res = dispatcher.Failure(dispatcher.StatusContainerInternalError, "dispatcher panic: %v", r)
		}
	}()
	return s.dispatcher.Dispatch(ctx, cmd, dc)
}

// --------------------------------------------------------------------------
// Replication layer notifications
// --------------------------------------------------------------------------

// NotifyLeaderChange records the role of this replica. Losing leadership clears the
// payload cache, only the leader serves payloads to followers.
func (s *ContainerStateMachine) NotifyLeaderChange(isLeader bool, term uint64) {
	s.term.Store(term)
	was := s.isLeader.Swap(isLeader)
	if was && !isLeader {
		s.cache.Clear()
		log.Infof("[%s] lost leadership in term %d, payload cache cleared", s.name, term)
	} else if !was && isLeader {
		log.Infof("[%s] became leader in term %d", s.name, term)
	}
}

// Term returns the last term reported by NotifyLeaderChange.
func (s *ContainerStateMachine) Term() uint64 {
	return s.term.Load()
}

// IsLeader reports whether this replica believes it is the leader.
func (s *ContainerStateMachine) IsLeader() bool {
	return s.isLeader.Load()
}

// NotifyFollowerProgress evicts cached payloads the followers no longer need.
// leaderIndex is the last index flushed by the leader, followers the match indices.
func (s *ContainerStateMachine) NotifyFollowerProgress(leaderIndex uint64, followers []uint64) {
	upTo := s.cfg.EvictionPolicy.EvictIndex(leaderIndex, followers)
	if n := s.cache.Evict(upTo); n > 0 {
		log.Debugf("[%s] evicted %d cached payloads up to index %d (%s)", s.name, n, upTo, s.cfg.EvictionPolicy.Name())
	}
}

// NotifyLogCompacted drops cached payloads of entries removed from the log.
func (s *ContainerStateMachine) NotifyLogCompacted(index uint64) {
	s.cache.Evict(index)
}

// Truncate drops cached payloads of the log suffix starting at index.
func (s *ContainerStateMachine) Truncate(index uint64) {
	if n := s.cache.Truncate(index); n > 0 {
		log.Infof("[%s] log truncated at %d, dropped %d cached payloads", s.name, index, n)
	}
}

// NotifyGroupRemove closes the tracked containers on replication group teardown.
// Containers that can not be closed cleanly are quasi closed. Failures are logged only.
func (s *ContainerStateMachine) NotifyGroupRemove(reason string) {
	if s.controller == nil {
		return
	}
	s.commitMap.Range(func(id uint64, _ uint64) bool {
		if _, ok := s.controller.GetContainerLocation(id); !ok {
			log.Debugf("[%s] container %d is not on this node, skipping", s.name, id)
			return true
		}
		err := s.controller.MarkForClose(id)
		if err == nil {
			return true
		}
		log.Warningf("[%s] failed to mark container %d for close: %v", s.name, id, err)
		if err := s.controller.QuasiClose(id, reason); err != nil {
			log.Errorf("[%s] failed to quasi close container %d: %v", s.name, id, err)
		}
		return true
	})
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

// Close rejects new work and waits for in-flight writes and applies until they finished,
// ShutdownTimeout elapsed or ctx is done. The worker pools are stopped in any case.
func (s *ContainerStateMachine) Close(ctx context.Context) error {
	s.closeMu.Lock()
	if s.closing {
		s.closeMu.Unlock()
		return nil
	}
	s.closing = true
	s.closeMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	start := time.Now()
	drained := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ErrShutdownTimeout
		log.Warningf("[%s] in-flight work did not finish within %s", s.name, s.cfg.ShutdownTimeout)
	}

	for _, q := range s.writeQueues {
		q.Close()
	}
	if perr := s.applyPool.Shutdown(ctx); perr != nil && err == nil {
		err = ErrShutdownTimeout
	}
	if perr := s.installPool.Shutdown(ctx); perr != nil && err == nil {
		err = ErrShutdownTimeout
	}
	s.cache.Clear()

	log.Infof("[%s] state machine closed after %s", s.name, time.Since(start))
	return err
}
