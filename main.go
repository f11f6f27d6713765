// Package main is the entry point for the Packetlens dashboard backend.
package main

import (
	"fmt"
	"os"

	"github.com/packetlens/packetlens/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
