package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/t9t/gontfs/mft"
)

func newStatCmd() *cobra.Command {
	var entryIndex uint64

	cmd := &cobra.Command{
		Use:   "stat <volume>",
		Short: "Print the decoded attributes of a single MFT entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gfs, f, err := openVolume(args[0])
			if err != nil {
				return fmt.Errorf("unable to open volume: %w", err)
			}
			defer f.Close()

			return gfs.withRLock(func(fs *mft.FileSystem) error {
				return printStat(fs, entryIndex)
			})
		},
	}

	cmd.Flags().Uint64Var(&entryIndex, "entry", mft.EntryIndexRoot, "MFT entry index to inspect")
	return cmd
}

func printStat(fs *mft.FileSystem, entryIndex uint64) error {
	record, err := fs.MftEntryByIndex(entryIndex)
	if err != nil {
		return fmt.Errorf("unable to read entry %d: %w", entryIndex, err)
	}

	fmt.Printf("Entry:        %d (sequence %d)\n", record.FileReference.RecordNumber, record.FileReference.SequenceNumber)
	fmt.Printf("Flags:        %s\n", recordFlagString(record.Flags))
	fmt.Printf("Links:        %d\n", record.HardLinkCount)
	if record.BaseRecordReference.RecordNumber != 0 {
		fmt.Printf("Base record:  %d (sequence %d)\n", record.BaseRecordReference.RecordNumber, record.BaseRecordReference.SequenceNumber)
	}

	if std, ok := record.FindAttributeByName(mft.AttributeTypeStandardInformation, ""); ok {
		info, err := mft.ParseStandardInformation(std.Data)
		if err != nil {
			return fmt.Errorf("unable to parse $STANDARD_INFORMATION: %w", err)
		}
		fmt.Printf("Modified:     %s\n", info.FileLastModified)
		fmt.Printf("Accessed:     %s\n", info.LastAccess)
		fmt.Printf("Created:      %s\n", info.Creation)
		fmt.Printf("Security id:  %d\n", info.SecurityId)

		if sd, found, err := fs.SecurityDescriptorByID(info.SecurityId); err != nil {
			fmt.Printf("Security descriptor: error: %v\n", err)
		} else if found {
			fmt.Printf("Security descriptor: %d bytes\n", len(sd))
		}
	}

	for i, attr := range record.Attributes {
		if attr.Type != mft.AttributeTypeFileName {
			continue
		}
		fn, err := mft.ParseFileName(attr.Data)
		if err != nil {
			fmt.Printf("Name[%d]:      unparseable: %v\n", i, err)
			continue
		}
		marker := " "
		if i == record.FileNameAttributeIndex {
			marker = "*"
		}
		fmt.Printf("Name[%d]%s:     %s (parent %d, real size %d)\n", i, marker, fn.Name, fn.ParentFileReference.RecordNumber, fn.RealSize)
	}

	if record.DataAttributeIndex != -1 {
		data := record.Attributes[record.DataAttributeIndex]
		if data.Resident {
			fmt.Printf("Data:         %d bytes (resident)\n", len(data.Data))
		} else {
			fmt.Printf("Data:         %d bytes across %d run(s)\n", data.DataSize, len(data.Runs))
		}
	}

	if record.HasObjectId {
		if attr, ok := record.FindAttributeByName(mft.AttributeTypeObjectId, ""); ok {
			objectId, err := mft.ParseObjectId(attr.Data)
			if err != nil {
				fmt.Printf("Object id:    unparseable: %v\n", err)
			} else {
				fmt.Printf("Object id:    %s\n", objectId.ObjectId)
			}
		}
	}

	return nil
}

func recordFlagString(f mft.RecordFlag) string {
	s := ""
	if f.Is(mft.RecordFlagInUse) {
		s += "in-use,"
	}
	if f.Is(mft.RecordFlagIsDirectory) {
		s += "directory,"
	}
	if f.Is(mft.RecordFlagInExtend) {
		s += "extend,"
	}
	if f.Is(mft.RecordFlagIsIndex) {
		s += "index-view,"
	}
	if s == "" {
		return "none"
	}
	return s[:len(s)-1]
}
