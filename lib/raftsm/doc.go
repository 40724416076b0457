// Package raftsm runs container state machines inside dragonboat.
//
// ContainerSM implements sm.IConcurrentStateMachine on top of a csm.ContainerStateMachine.
// Registry keeps the state machines of a node by replication group (dragonboat shard) and
// forwards dragonboat's leader events to them. ContainerClient validates container commands
// and proposes them through a NodeHost.
//
// Usage:
//
//	registry := raftsm.NewRegistry()
//	nh, err := dragonboat.NewNodeHost(cfg.ToNodeHostConfig(registry))
//	...
//	factory := raftsm.CreateStateMachineFactory(newCSM, nh, registry)
//	err = nh.StartConcurrentReplica(members, false, factory, cfg.ToDragonboatConfig(shardID))
//	...
//	c := raftsm.NewContainerClient(nh, shardID, 5*time.Second)
//	err = c.CreateContainer(1)
package raftsm
