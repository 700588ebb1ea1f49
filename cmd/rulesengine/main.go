// Command rulesengine wraps pkg/engine's Go API in a Cobra CLI: serve runs
// the long-lived engine process; rules/query/stats are thin administrative
// wrappers over the same config and storage.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
