package util

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/acceldata-io/ozone-sub000/lib/util"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables (e.g. CSM_LOG_LEVEL)
	EnvPrefix = "csm"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and makes viper read CSM_* environment variables
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// NodeID converts a node name (e.g. 'node-1') into a replica id
func NodeID(name string) uint64 {
	return util.HashString(strings.TrimSpace(name), 0)
}

// ParseShards parses a comma separated list of replication group ids
func ParseShards(list string) ([]uint64, error) {
	var shards []uint64
	seen := make(map[uint64]bool)
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("invalid replication group id %q", part)
		}
		if seen[id] {
			return nil, fmt.Errorf("replication group %d listed twice", id)
		}
		seen[id] = true
		shards = append(shards, id)
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("at least one replication group is required")
	}
	return shards, nil
}

// ParseClusterMembers parses 'node-1=localhost:63001,node-2=localhost:63002' into replica id -> address
func ParseClusterMembers(list string) (map[uint64]string, error) {
	members := make(map[uint64]string)
	for _, member := range strings.Split(list, ",") {
		if strings.TrimSpace(member) == "" {
			continue
		}
		parts := strings.Split(member, "=")
		if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
			return nil, fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
		}
		members[NodeID(parts[0])] = strings.TrimSpace(parts[1])
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("at least one cluster member is required")
	}
	return members, nil
}
