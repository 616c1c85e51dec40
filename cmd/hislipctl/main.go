// Command hislipctl talks to a HiSLIP instrument from the command line.
//
//	hislipctl --host 192.168.0.20 query '*IDN?'
//	hislipctl --config bench.toml status
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
