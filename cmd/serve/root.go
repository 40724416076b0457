package serve

import (
	"fmt"

	cmdUtil "github.com/acceldata-io/ozone-sub000/cmd/util"
	"github.com/acceldata-io/ozone-sub000/lib/common"
	"github.com/acceldata-io/ozone-sub000/lib/csm"
	"github.com/acceldata-io/ozone-sub000/lib/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a storage node",
		Long:    `Start a storage node that runs one container state machine per replication group. The configuration can be set via command line flags or environment variables. The format of the environment variables is CSM_<flag> (e.g. CSM_WRITE_WORKERS=16)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	defaults := csm.DefaultConfig()

	// add flags
	key := "shards"
	ServeCmd.PersistentFlags().String(key, "100", cmdUtil.WrapString("Comma-separated list of replication group ids served by this node (e.g. '100,200')"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. \nOther raft configuration parameters (ElectionRTT=value/10, HeartbeatRTT=value/100) are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Int(key, 1000, cmdUtil.WrapString("SnapshotEntries defines how often the state machine should be snapshotted automatically. It is defined in terms of the number of applied Raft log entries. SnapshotEntries can be set to 0 to disable such automatic snapshotting (not recommended)"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Int(key, 500, cmdUtil.WrapString("CompactionOverhead defines the number of log entries kept after a snapshot was taken. Recommended value is about 1/2 of SnapshotEntries"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("DataDir is the directory used for the raft log and the state machine snapshots"))

	key = "replica-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("ReplicaID is the unique identifier for this NodeHost instance (e.g. 'node-1')"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds"))

	key = "write-workers"
	ServeCmd.PersistentFlags().Int(key, defaults.WriteWorkers, cmdUtil.WrapString("Number of payload write workers per replication group. Writes of the same block always run on the same worker"))

	key = "apply-workers"
	ServeCmd.PersistentFlags().Int(key, defaults.ApplyWorkers, cmdUtil.WrapString("Number of workers that apply committed entries. Entries of the same container are applied in log order"))

	key = "max-pending-apply"
	ServeCmd.PersistentFlags().Int(key, defaults.MaxPendingApply, cmdUtil.WrapString("Maximum number of entries that are submitted but not yet applied, further applies block"))

	key = "cache-bytes"
	ServeCmd.PersistentFlags().Int(key, defaults.CacheBytes, cmdUtil.WrapString("Size of the leader payload cache in bytes. Only payloads written without their log entry are cached, replicated entries carry their payload and use no cache memory"))

	key = "eviction-policy"
	ServeCmd.PersistentFlags().String(key, defaults.EvictionPolicy.Name(), cmdUtil.WrapString("When cached payloads are dropped: 'majority' (a majority stored the entry) or 'all-followers' (every follower stored the entry)"))

	key = "recoverable-statuses"
	ServeCmd.PersistentFlags().String(key, defaults.RecoverableStatuses.String(), cmdUtil.WrapString("Comma-separated list of storage statuses that are returned to the client instead of marking the replica unhealthy"))

	key = "snapshot-retain"
	ServeCmd.PersistentFlags().Int(key, defaults.SnapshotRetain, cmdUtil.WrapString("Number of local snapshot files kept per replication group"))

	key = "shutdown-timeout"
	ServeCmd.PersistentFlags().Duration(key, defaults.ShutdownTimeout, cmdUtil.WrapString("Time a state machine waits for in-flight writes and applies on shutdown"))

	key = "read-bytes-per-second"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Bandwidth limit for payloads read back from disk, 0 means unlimited"))

	key = "admin-endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:9090", cmdUtil.WrapString("The address of the admin endpoint serving /metrics and /health, empty to disable"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	shards, err := cmdUtil.ParseShards(viper.GetString("shards"))
	if err != nil {
		return err
	}
	serveCmdConfig.Shards = shards

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.WriteWorkers = viper.GetInt("write-workers")
	serveCmdConfig.ApplyWorkers = viper.GetInt("apply-workers")
	serveCmdConfig.MaxPendingApply = viper.GetInt("max-pending-apply")
	serveCmdConfig.CacheBytes = viper.GetInt("cache-bytes")
	serveCmdConfig.EvictionPolicy = viper.GetString("eviction-policy")
	serveCmdConfig.RecoverableStatuses = viper.GetString("recoverable-statuses")
	serveCmdConfig.SnapshotRetain = viper.GetInt("snapshot-retain")
	serveCmdConfig.ShutdownTimeout = viper.GetDuration("shutdown-timeout")
	serveCmdConfig.ReadBytesPerSecond = viper.GetInt("read-bytes-per-second")
	serveCmdConfig.AdminEndpoint = viper.GetString("admin-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if serveCmdConfig.TimeoutSecond <= 0 {
		serveCmdConfig.TimeoutSecond = 5
	}

	// parse replica id
	id := viper.GetString("replica-id")
	if id == "" {
		return fmt.Errorf("ReplicaId is required")
	}
	serveCmdConfig.ReplicaID = cmdUtil.NodeID(id)

	// parse cluster members
	members, err := cmdUtil.ParseClusterMembers(viper.GetString("cluster-members"))
	if err != nil {
		return err
	}
	serveCmdConfig.ClusterMembers = members

	// test if the replica id is in the cluster members
	if _, ok := serveCmdConfig.ClusterMembers[serveCmdConfig.ReplicaID]; !ok {
		return fmt.Errorf("no address found for replica ID %s in cluster members", id)
	}

	// fail before the node host is started if the state machine settings are invalid
	_, err = serveCmdConfig.CSMConfig(serveCmdConfig.Shards[0])
	return err
}

// run starts the storage node
func run(_ *cobra.Command, _ []string) error {
	return server.New(*serveCmdConfig).Serve()
}
