// Command objectdal reads and writes objects on any backend described by a
// profile in a YAML config file.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/grokify/objectdal"
)

var version = objectdal.Version

// Output streams. Tests replace them.
var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

var commands = map[string]func([]string) error{
	"ls":      runLs,
	"walk":    runWalk,
	"stat":    runStat,
	"cat":     runCat,
	"put":     runPut,
	"rm":      runRm,
	"presign": runPresign,
	"schemes": runSchemes,
}

func usage() {
	fmt.Fprintf(stderr, `objectdal - object storage CLI (version %s)

Usage:
  objectdal <command> [options]

Commands:
  ls       List the children of a directory
  walk     List a directory recursively (--bottom-up for children first)
  stat     Show the metadata of an object
  cat      Write an object to stdout (--range, --decompress)
  put      Upload a local file or stdin (--compress gzip|zstd)
  rm       Delete an object (-r for a whole directory)
  presign  Print a presigned request (--op read|write|stat)
  schemes  List the compiled-in backends

Every command accepts -config and -profile. The config file defaults to
$%s, the profile to $%s.

Run 'objectdal <command> -h' for command-specific help.
`, version, envConfig, envProfile)
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		usage()
		return 1
	}

	cmd := args[0]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		usage()
		return 0
	}
	if cmd == "-v" || cmd == "--version" || cmd == "version" {
		fmt.Fprintln(stdout, version)
		return 0
	}

	fn, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(stderr, "unknown command: %s\n\n", cmd) //nolint:gosec // G705: CLI error output
		usage()
		return 1
	}
	if err := fn(args[1:]); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err) //nolint:gosec // G705: CLI error output
		return 1
	}
	return 0
}
