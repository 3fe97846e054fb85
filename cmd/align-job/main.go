// main package for align-job, which runs an alignment job manifest from disk
// and writes one sync map per succeeded task.
package main

import (
	"os"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}
