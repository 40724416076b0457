// Package common holds the node level configuration and the logging setup shared by the
// command line and the dragonboat binding.
//
//   - ServerConfig: replication groups, RAFT parameters, state machine tuning and the admin
//     endpoint. It converts itself into the Dragonboat NodeHostConfig and Config and into the
//     csm.Config of every replication group.
//
//   - Logger: implementation of dragonboat's logger.ILogger so that dragonboat and this
//     module log in the same format. InitLoggers installs it.
package common
