package csm

import (
	"errors"
	"fmt"
	"io"

	"github.com/acceldata-io/ozone-sub000/lib/command"
	"github.com/acceldata-io/ozone-sub000/lib/snapshot"
	"github.com/acceldata-io/ozone-sub000/lib/util"
)

// CaptureSnapshot returns the commit map at the last applied position. The caller must
// make sure no apply is in flight, otherwise the position and the map may disagree.
// It fails once the replica is unhealthy, a broken replica must not move the compaction point.
func (s *ContainerStateMachine) CaptureSnapshot() (snapshot.Snapshot, error) {
	if !s.IsHealthy() {
		return snapshot.Snapshot{}, ErrUnhealthy
	}
	ti := s.applied.lastApplied()
	return snapshot.Snapshot{Term: ti.Term, Index: ti.Index, CommitMap: s.CommitMap()}, nil
}

// TakeSnapshot writes the commit map to the snapshot directory and returns the index the
// snapshot was taken at, which becomes the new log compaction point.
func (s *ContainerStateMachine) TakeSnapshot() (uint64, error) {
	snap, err := s.CaptureSnapshot()
	if err != nil {
		log.Warningf("[%s] refusing to take snapshot: %v", s.name, err)
		return 0, err
	}
	if _, err := s.PersistSnapshot(snap); err != nil {
		return 0, err
	}
	return snap.Index, nil
}

// PersistSnapshot writes snap to the snapshot directory and purges the files beyond
// SnapshotRetain. It returns the path of the new file.
func (s *ContainerStateMachine) PersistSnapshot(snap snapshot.Snapshot) (string, error) {
	if s.cfg.SnapshotDir == "" {
		return "", NewError(RetCInternal, "no snapshot directory configured")
	}
	path, err := snapshot.Write(s.cfg.SnapshotDir, snap)
	if err != nil {
		return "", fmt.Errorf("taking snapshot at %d: %w", snap.Index, err)
	}
	removed, err := snapshot.Purge(s.cfg.SnapshotDir, s.cfg.SnapshotRetain)
	if err != nil {
		log.Warningf("[%s] failed to purge old snapshots: %v", s.name, err)
	}
	log.Infof("[%s] took snapshot %s with %d containers (purged %d)", s.name, path, len(snap.CommitMap), len(removed))
	return path, nil
}

// SaveSnapshotTo streams the current snapshot to w and returns its index.
func (s *ContainerStateMachine) SaveSnapshotTo(w io.Writer) (uint64, error) {
	snap, err := s.CaptureSnapshot()
	if err != nil {
		return 0, err
	}
	if err := snapshot.Encode(w, snap); err != nil {
		return 0, fmt.Errorf("encoding snapshot at %d: %w", snap.Index, err)
	}
	return snap.Index, nil
}

// LoadSnapshot restores the commit map from a snapshot file and returns the index to resume
// from. Loading the same file again yields the same state.
func (s *ContainerStateMachine) LoadSnapshot(path string) (uint64, error) {
	snap, err := snapshot.Read(path)
	if err != nil {
		return 0, err
	}
	log.Infof("[%s] loading snapshot %s", s.name, path)
	return s.restore(snap), nil
}

// LoadLatestSnapshot loads the newest snapshot of the snapshot directory.
// ok is false if there is none.
func (s *ContainerStateMachine) LoadLatestSnapshot() (index uint64, ok bool, err error) {
	if s.cfg.SnapshotDir == "" {
		return 0, false, nil
	}
	info, ok, err := snapshot.Latest(s.cfg.SnapshotDir)
	if err != nil || !ok {
		return 0, false, err
	}
	index, err = s.LoadSnapshot(info.Path)
	return index, err == nil, err
}

// RecoverSnapshotFrom restores the state from a streamed snapshot.
func (s *ContainerStateMachine) RecoverSnapshotFrom(r io.Reader) (uint64, error) {
	snap, err := snapshot.Decode(r)
	if err != nil {
		return 0, err
	}
	return s.restore(snap), nil
}

// InstallSnapshot loads a snapshot received from the leader on the install worker.
func (s *ContainerStateMachine) InstallSnapshot(path string) *util.Future[uint64] {
	return s.onInstallWorker(func() (uint64, error) {
		return s.LoadSnapshot(path)
	})
}

// ReceiveSnapshot installs a streamed snapshot. The snapshot is stored in the snapshot
// directory first, so the local files always include the state the replica resumed from.
func (s *ContainerStateMachine) ReceiveSnapshot(r io.Reader) (uint64, error) {
	snap, err := snapshot.Decode(r)
	if err != nil {
		return 0, err
	}
	if s.cfg.SnapshotDir == "" {
		return s.onInstallWorker(func() (uint64, error) {
			return s.restore(snap), nil
		}).Get()
	}
	path, err := s.PersistSnapshot(snap)
	if err != nil {
		return 0, err
	}
	return s.InstallSnapshot(path).Get()
}

// onInstallWorker runs fn on the single snapshot install worker
func (s *ContainerStateMachine) onInstallWorker(fn func() (uint64, error)) *util.Future[uint64] {
	future := util.NewFuture[uint64]()
	if err := s.enter(); err != nil {
		future.Complete(0, err)
		return future
	}
	err := s.installPool.Submit(func() {
		defer s.leave()
		future.Complete(fn())
	})
	if err != nil {
		s.leave()
		if errors.Is(err, util.ErrPoolClosed) {
			err = ErrShutdown
		}
		future.Complete(0, err)
	}
	return future
}

// restore replaces the commit map and moves the applied position to the snapshot
func (s *ContainerStateMachine) restore(snap snapshot.Snapshot) uint64 {
	s.commitMap.Clear()
	for id, bcsid := range snap.CommitMap {
		s.commitMap.Store(id, bcsid)
	}
	s.applied.reset(command.TermIndex{Term: snap.Term, Index: snap.Index})

	if s.controller != nil {
		missing, err := s.controller.ReconcileContainers(snap.CommitMap)
		if err != nil {
			log.Errorf("[%s] failed to reconcile containers with snapshot %d: %v", s.name, snap.Index, err)
		} else if len(missing) > 0 {
			log.Warningf("[%s] %d containers of snapshot %d are missing on disk: %v", s.name, len(missing), snap.Index, missing)
		}
	}
	log.Infof("[%s] restored %d containers at (t:%d, i:%d)", s.name, len(snap.CommitMap), snap.Term, snap.Index)
	return snap.Index
}
