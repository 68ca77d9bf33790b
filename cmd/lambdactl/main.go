// lambdactl - Lambda Cloud instance control
// List. Launch. Catch the ones left running.
package main

import (
	"context"
	"os"
)

// Set with -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
