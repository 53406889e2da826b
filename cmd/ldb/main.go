// ldb is a maintenance tool for inspecting engine files: it prints the
// logical records of a WAL file and the contents of an sstable.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xmh1011/go-leveldb/engine/lsm/keys"
	"github.com/xmh1011/go-leveldb/engine/lsm/sstable"
	"github.com/xmh1011/go-leveldb/engine/lsm/wal"
	"github.com/xmh1011/go-leveldb/pkg/config"
	"github.com/xmh1011/go-leveldb/pkg/log"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "ldb",
		Short: "Inspect go-leveldb WAL and sstable files",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := config.Init(configPath); err != nil {
				return fmt.Errorf("failed to initialize config: %w", err)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "dump-wal <file>",
		Short: "Print every logical record of a WAL file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return dumpWAL(args[0])
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "dump-sst <file>",
		Short: "Print every key/value pair of an sstable",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return dumpSSTable(args[0])
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

type printingReporter struct{}

func (printingReporter) Corruption(bytes int, reason error) {
	fmt.Printf("corruption: %d bytes dropped: %v\n", bytes, reason)
}

func dumpWAL(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := wal.NewReader(file, printingReporter{}, true, 0)
	n := 0
	for {
		record, ok := reader.ReadRecord()
		if !ok {
			break
		}
		fmt.Printf("record %d @ %d: %d bytes\n", n, reader.LastRecordOffset(), len(record))
		n++
	}
	fmt.Printf("%d records\n", n)
	return nil
}

func dumpSSTable(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return err
	}

	opts := sstable.DefaultOptions()
	opts.Compression = sstable.NoCompression // irrelevant for reading
	table, err := sstable.Open(opts, file, uint64(info.Size()))
	if err != nil {
		log.Errorf("[ldb] Open sstable %s error: %s", path, err.Error())
		return err
	}

	it := table.NewIterator(sstable.ReadOptions{VerifyChecksums: true})
	defer it.Close()
	n := 0
	for it.SeekToFirst(); it.Valid(); it.Next() {
		userKey, seq, t, ok := keys.ParseInternalKey(it.Key())
		if !ok {
			fmt.Printf("%q => %d bytes (unparsable key)\n", it.Key(), len(it.Value()))
		} else {
			kind := "put"
			if t == keys.TypeDeletion {
				kind = "del"
			}
			fmt.Printf("%q @ %d : %s => %q\n", userKey, seq, kind, it.Value())
		}
		n++
	}
	if err := it.Status(); err != nil {
		return err
	}
	fmt.Printf("%d entries\n", n)
	return nil
}
