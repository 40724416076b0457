package csm

// HealthState is the health of a replica. It only ever moves from Healthy to Unhealthy.
type HealthState int32

const (
	Healthy HealthState = iota
	Unhealthy
)

func (h HealthState) String() string {
	if h == Healthy {
		return "Healthy"
	}
	return "Unhealthy"
}

// GroupCloser is notified once when the replica becomes unhealthy.
// The replication layer is expected to tear down the replication group, a broken
// replica is replaced instead of repaired.
type GroupCloser interface {
	CloseGroup(reason string)
}

// GroupCloserFunc adapts a function to the GroupCloser interface.
type GroupCloserFunc func(reason string)

func (f GroupCloserFunc) CloseGroup(reason string) { f(reason) }

// Health returns the current health state.
func (s *ContainerStateMachine) Health() HealthState {
	return HealthState(s.health.Load())
}

// IsHealthy reports whether the replica is still healthy.
func (s *ContainerStateMachine) IsHealthy() bool {
	return s.Health() == Healthy
}

// markUnhealthy moves the replica into the unhealthy state. Only the caller that performs
// the transition notifies the group closer, it returns whether this call did the transition.
func (s *ContainerStateMachine) markUnhealthy(reason string) bool {
	if !s.health.CompareAndSwap(int32(Healthy), int32(Unhealthy)) {
		log.Debugf("[%s] already unhealthy, ignoring: %s", s.name, reason)
		return false
	}
	log.Errorf("[%s] replica is now unhealthy: %s", s.name, reason)
	if s.closer != nil {
		s.closer.CloseGroup(reason)
	}
	return true
}
