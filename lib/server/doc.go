// Package server runs a storage node: one dragonboat NodeHost hosting a container state
// machine per configured replication group, and an admin http endpoint exposing the
// prometheus metrics (/metrics) and the health of every group (/health).
package server
