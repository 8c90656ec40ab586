// Package main provides the entry point for the indexpool CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/indexpool/cmd/indexpool/cmd"
)

func main() {
	os.Exit(cmd.ExitCode(cmd.Execute()))
}
