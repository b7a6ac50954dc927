package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/t9t/gontfs/fragment"
	"github.com/t9t/gontfs/mft"
)

func newDumpMftCmd() *cobra.Command {
	var force bool
	var progress bool
	var verbose bool

	cmd := &cobra.Command{
		Use:   "dump-mft <volume> <output file>",
		Short: "Copy the raw $MFT file to an output file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDumpMft(args[0], args[1], force, progress, verbosePrintf(verbose))
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite the output file if it already exists")
	cmd.Flags().BoolVarP(&progress, "progress", "p", false, "show a progress bar while copying")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print details about what's going on")
	return cmd
}

func runDumpMft(volume, outfile string, force bool, progress bool, printVerbose func(string, ...interface{})) error {
	gfs, f, err := openVolume(volume)
	if err != nil {
		return fmt.Errorf("unable to open volume: %w", err)
	}
	defer f.Close()

	var fragments []fragment.Fragment
	var totalLength int64

	err = gfs.withRLock(func(fs *mft.FileSystem) error {
		printVerbose("Reading $MFT entry 0\n")
		entry0, err := fs.MftEntryByIndex(mft.EntryIndexMft)
		if err != nil {
			return fmt.Errorf("unable to read $MFT entry: %w", err)
		}

		dataAttr, ok := entry0.FindAttributeByName(mft.AttributeTypeData, "")
		if !ok {
			return fmt.Errorf("no unnamed $DATA attribute found in $MFT entry")
		}
		if dataAttr.Resident {
			return fmt.Errorf("don't know how to handle resident $DATA attribute in $MFT entry")
		}

		clusterSize := int64(fs.BootSector().ClusterBlockSize())
		fragments = make([]fragment.Fragment, len(dataAttr.Runs))
		for i, run := range dataAttr.Runs {
			fragments[i] = fragment.Fragment{
				Offset: int64(run.LCNStart) * clusterSize,
				Length: int64(run.Length) * clusterSize,
			}
			totalLength += fragments[i].Length
		}
		return nil
	})
	if err != nil {
		return err
	}

	out, err := openOutputFile(outfile, force)
	if err != nil {
		return fmt.Errorf("unable to open output file: %w", err)
	}
	defer out.Close()

	printVerbose("Copying %d bytes of data to %s\n", totalLength, outfile)
	n, err := copyWithProgress(out, fragment.NewReader(f, fragments), totalLength, progress)
	if err != nil {
		return fmt.Errorf("error copying data to output file: %w", err)
	}
	if n != totalLength {
		return fmt.Errorf("expected to copy %d bytes, but copied only %d", totalLength, n)
	}
	return nil
}

func openOutputFile(outfile string, force bool) (*os.File, error) {
	if force {
		return os.Create(outfile)
	}
	return os.OpenFile(outfile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0666)
}

func copyWithProgress(dst io.Writer, src io.Reader, totalLength int64, showProgress bool) (int64, error) {
	buf := make([]byte, 1024*1024)
	if !showProgress || totalLength == 0 {
		return io.CopyBuffer(dst, src, buf)
	}

	onePercent := float64(totalLength) / 100.0
	var written int64
	for {
		printProgress(written, totalLength, onePercent)
		nr, er := src.Read(buf)
		if nr > 0 {
			nw, ew := dst.Write(buf[0:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if ew != nil {
				return written, ew
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if er != nil {
			if er == io.EOF {
				break
			}
			return written, er
		}
	}
	printProgress(written, totalLength, onePercent)
	fmt.Println()
	return written, nil
}

func printProgress(n int64, totalLength int64, onePercent float64) {
	percentage := float64(n) / onePercent
	barCount := int(percentage / 2.0)
	spaceCount := 50 - barCount
	fmt.Printf("\r[%s%s] %.2f%% (%d / %d bytes)     ", strings.Repeat("|", barCount), strings.Repeat(" ", spaceCount), percentage, n, totalLength)
}
