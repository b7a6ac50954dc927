package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/t9t/gontfs/mft"
)

func newLsCmd() *cobra.Command {
	var entryIndex uint64

	cmd := &cobra.Command{
		Use:   "ls <volume>",
		Short: "List the directory entries of an MFT entry's $I30 index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gfs, f, err := openVolume(args[0])
			if err != nil {
				return fmt.Errorf("unable to open volume: %w", err)
			}
			defer f.Close()

			return gfs.withRLock(func(fs *mft.FileSystem) error {
				idx, err := fs.DirectoryIndex(entryIndex)
				if err != nil {
					return fmt.Errorf("unable to open directory index for entry %d: %w", entryIndex, err)
				}
				entries, err := idx.Iterate()
				if err != nil {
					return fmt.Errorf("unable to iterate directory index: %w", err)
				}
				for _, e := range entries {
					if !e.HasFileName {
						continue
					}
					kind := "-"
					if e.FileName.Flags&mft.FileAttributeReparsePoint != 0 {
						kind = "r"
					}
					fmt.Printf("%-8d %s %10d  %s\n", e.FileReference.RecordNumber, kind, e.FileName.RealSize, e.FileName.Name)
				}
				return nil
			})
		},
	}

	cmd.Flags().Uint64Var(&entryIndex, "entry", mft.EntryIndexRoot, "MFT entry index of the directory to list")
	return cmd
}
