package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/packetlens/packetlens/internal/schema"
)

var validateCmd = &cobra.Command{
	Use:   "validate FILE...",
	Short: "Validate schema source files without installing them",
	Long: `Validate one or more protobuf schema source files.

Builds a registry from the concatenated sources exactly as a dashboard upload
would, and reports the decodable type count and the number of command-id
associations found. Nothing is persisted.

Examples:
  packetlens validate protocol.proto
  packetlens validate base.proto extensions.proto`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runValidate(args)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(paths []string) {
	sources := make([]schema.Source, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			exitWithError(fmt.Sprintf("failed to read %s", path), err)
		}
		sources = append(sources, schema.Source{Name: filepath.Base(path), Text: string(data)})
	}

	reg, err := schema.Build(sources)
	if err != nil {
		exitWithError("schema validation failed", err)
	}
	fmt.Printf("OK: %d message types, %d command-id mappings\n",
		reg.TypeCount(), reg.MappingCount())
}
