// Package cmd implements the command-line interface of a storage node running
// replicated container state machines.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for starting and configuring a storage node
//   - snapshot: Commands for inspecting local state machine snapshots
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See csm -help for a list of all commands.
package cmd
