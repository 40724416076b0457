package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/acceldata-io/ozone-sub000/lib/cache"
	"github.com/acceldata-io/ozone-sub000/lib/csm"
	"github.com/acceldata-io/ozone-sub000/lib/dispatcher"
	"github.com/lni/dragonboat/v4/config"
	"github.com/lni/dragonboat/v4/raftio"
)

// --------------------------------------------------------------------------
// helper functions to interface with Dragonboat
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the ServerConfig to the Dragonboat Config of one replication group
func (c *ServerConfig) ToDragonboatConfig(shardID uint64) config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            shardID,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat. The listener receives the
// leader changes of all replication groups on this node.
func (c *ServerConfig) ToNodeHostConfig(listener raftio.IRaftEventListener) config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:            c.DataDir,
		NodeHostDir:       c.DataDir,
		RTTMillisecond:    c.RTTMillisecond,
		RaftAddress:       c.ClusterMembers[c.ReplicaID],
		RaftEventListener: listener,
	}
}

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a storage node.
type ServerConfig struct {
	// Replication groups (one dragonboat shard each) served by this node
	Shards []uint64

	// Dragonboat parameters
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ReplicaID          uint64
	ClusterMembers     map[uint64]string
	TimeoutSecond      int64

	// State machine parameters
	WriteWorkers        int
	ApplyWorkers        int
	MaxPendingApply     int
	CacheBytes          int
	EvictionPolicy      string
	RecoverableStatuses string
	SnapshotRetain      int
	ShutdownTimeout     time.Duration
	ReadBytesPerSecond  int

	// Admin http endpoint (metrics and health)
	AdminEndpoint string

	// Logging configuration
	LogLevel string
}

// CSMConfig builds the state machine configuration of one replication group.
// Local snapshots of a group are stored below DataDir/snapshots/<shard>.
func (c *ServerConfig) CSMConfig(shardID uint64) (csm.Config, error) {
	policy, err := cache.ParseEvictionPolicy(c.EvictionPolicy)
	if err != nil {
		return csm.Config{}, err
	}
	recoverable := dispatcher.DefaultRecoverableStatuses()
	if strings.TrimSpace(c.RecoverableStatuses) != "" {
		if recoverable, err = dispatcher.ParseStatusSet(c.RecoverableStatuses); err != nil {
			return csm.Config{}, err
		}
	}

	cfg := csm.Config{
		WriteWorkers:        c.WriteWorkers,
		ApplyWorkers:        c.ApplyWorkers,
		MaxPendingApply:     c.MaxPendingApply,
		CacheBytes:          c.CacheBytes,
		EvictionPolicy:      policy,
		RecoverableStatuses: recoverable,
		SnapshotDir:         fmt.Sprintf("%s/snapshots/%d", strings.TrimRight(c.DataDir, "/"), shardID),
		SnapshotRetain:      c.SnapshotRetain,
		ShutdownTimeout:     c.ShutdownTimeout,
		ReadBytesPerSecond:  c.ReadBytesPerSecond,
	}
	return cfg, cfg.Validate()
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Admin")
	addField("Endpoint", c.AdminEndpoint)
	addField("Log Level", c.LogLevel)

	addSection("Replication Groups")
	for _, shard := range c.Shards {
		addField(strconv.FormatUint(shard, 10), "container state machine")
	}

	addSection("State Machine")
	addField("Write Workers", strconv.Itoa(c.WriteWorkers))
	addField("Apply Workers", strconv.Itoa(c.ApplyWorkers))
	addField("Max Pending Apply", strconv.Itoa(c.MaxPendingApply))
	addField("Cache Size", fmt.Sprintf("%d bytes", c.CacheBytes))
	addField("Eviction Policy", c.EvictionPolicy)
	addField("Recoverable Statuses", c.RecoverableStatuses)
	addField("Snapshot Retain", strconv.Itoa(c.SnapshotRetain))
	addField("Shutdown Timeout", c.ShutdownTimeout.String())
	if c.ReadBytesPerSecond > 0 {
		addField("Read Bandwidth", fmt.Sprintf("%d bytes/s", c.ReadBytesPerSecond))
	} else {
		addField("Read Bandwidth", "unlimited")
	}

	addSection("Node Identity")
	addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
	addField("Node ID", strconv.FormatUint(c.ReplicaID, 10))

	addSection("RAFT Parameters")
	addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
	addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
	addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
	addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
	addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	addSection("Storage")
	addField("Data Directory", c.DataDir)

	addSection("Cluster")
	var keys []uint64
	for k := range c.ClusterMembers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.ClusterMembers[k]))
	}
	return sb.String()
}
