// Command serial-jobs runs the job scheduler and manages its jobs.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
