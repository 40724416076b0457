package snapshot

import (
	"fmt"
	"sort"

	"github.com/acceldata-io/ozone-sub000/lib/snapshot"
	"github.com/spf13/cobra"
)

var (
	SnapshotCommands = &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect local state machine snapshots",
		Long:  `Inspect the snapshot files a storage node writes below <data-dir>/snapshots/<group>.`,
	}

	inspectCmd = &cobra.Command{
		Use:   "inspect [file]",
		Short: "Print the log position and the commit map of a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := snapshot.Read(args[0])
			if err != nil {
				return err
			}
			printSnapshot(cmd, s)
			return nil
		},
	}

	listCmd = &cobra.Command{
		Use:   "list [dir]",
		Short: "List the snapshot files of a replication group, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := snapshot.List(args[0])
			if err != nil {
				return err
			}
			if len(files) == 0 {
				cmd.Printf("no snapshots in %s\n", args[0])
				return nil
			}
			for _, f := range files {
				cmd.Printf("(t:%d, i:%d)\t%s\n", f.Term, f.Index, f.Path)
			}
			return nil
		},
	}

	latestCmd = &cobra.Command{
		Use:   "latest [dir]",
		Short: "Print the newest snapshot of a replication group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, ok, err := snapshot.Latest(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no snapshots in %s", args[0])
			}
			s, err := snapshot.Read(f.Path)
			if err != nil {
				return err
			}
			cmd.Printf("file: %s\n", f.Path)
			printSnapshot(cmd, s)
			return nil
		},
	}
)

func init() {
	SnapshotCommands.AddCommand(inspectCmd)
	SnapshotCommands.AddCommand(listCmd)
	SnapshotCommands.AddCommand(latestCmd)
}

func printSnapshot(cmd *cobra.Command, s snapshot.Snapshot) {
	cmd.Printf("term: %d\nindex: %d\ncontainers: %d\n", s.Term, s.Index, len(s.CommitMap))

	ids := make([]uint64, 0, len(s.CommitMap))
	for id := range s.CommitMap {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		cmd.Printf("  container %d: bcsid %d\n", id, s.CommitMap[id])
	}
}
