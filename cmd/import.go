package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/packetlens/packetlens/internal/ingest"
	"github.com/packetlens/packetlens/internal/log"
	"github.com/packetlens/packetlens/internal/pipeline"
	"github.com/packetlens/packetlens/internal/schema"
	"github.com/packetlens/packetlens/internal/store"
)

var importCmd = &cobra.Command{
	Use:   "import FILE...",
	Short: "Import packet export files into the persisted collection",
	Long: `Import one or more JSON packet export files offline.

Each file must contain a JSON array of raw packet records. Files that fail to
parse are reported individually without aborting the rest. The normalized
packets replace the persisted collection; the dashboard shows them on next
start.

Examples:
  packetlens import session.json
  packetlens import -c config.yml part1.json part2.json`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runImport(args)
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(paths []string) {
	cfg := loadConfig()
	if err := log.Init(cfg.Log); err != nil {
		exitWithError("failed to initialize logging", err)
	}

	st, err := store.NewFileStore(cfg.Store.Dir, cfg.Store.QuotaBytes)
	if err != nil {
		exitWithError("failed to open store", err)
	}

	session := pipeline.NewSession(cfg.Envelope)
	if src, err := st.LoadSchemaSource(); err == nil {
		if reg, err := schema.Build([]schema.Source{{Name: "persisted", Text: src}}); err == nil {
			session.SetRegistry(reg)
		}
	}
	// Continue counting after any persisted packets.
	if pkts, err := st.Load(); err == nil {
		session.Restore(pkts)
	}

	files := make([]ingest.BatchFile, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			exitWithError(fmt.Sprintf("failed to read %s", path), err)
		}
		files = append(files, ingest.BatchFile{Name: filepath.Base(path), Data: data})
	}

	result := ingest.ImportBatch(context.Background(), session, st, files)
	for _, report := range result.Files {
		if report.Error != "" {
			fmt.Printf("  %s: REJECTED (%s)\n", report.Name, report.Error)
		} else {
			fmt.Printf("  %s: %d records\n", report.Name, report.Records)
		}
	}
	if !result.Imported {
		exitWithError("no file could be imported", nil)
	}
	fmt.Printf("Imported %d records as %d packets\n", result.Records, result.Packets)
}
