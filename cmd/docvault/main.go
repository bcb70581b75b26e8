// Command docvault indexes and searches a local document directory.
package main

import (
	"fmt"
	"os"

	"github.com/docvault/docvault/cmd/docvault/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
