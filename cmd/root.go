package cmd

import (
	"fmt"
	"os"

	"github.com/acceldata-io/ozone-sub000/cmd/serve"
	"github.com/acceldata-io/ozone-sub000/cmd/snapshot"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "csm",
		Short: "replicated container state machine",
		Long: fmt.Sprintf(`csm (v%s)

A storage node that keeps block containers consistent across replicas,
leveraging RAFT consensus to order container operations and writing
chunk payloads ahead of commit.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of csm",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("csm v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(snapshot.SnapshotCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
