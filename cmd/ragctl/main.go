// Command ragctl is the reference CLI over the ragcore engine: ingest,
// query, and reset as three thin subcommands, per spec §6.
package main

import (
	"os"

	"github.com/arborq/ragcore/cmd/ragctl/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
