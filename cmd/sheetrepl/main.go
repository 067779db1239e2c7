// Command sheetrepl is the interactive command-line driver for a sheet.Sheet.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/Maxibang/sheet/repl"
)

func main() {
	if len(os.Args) < 2 {
		repl.Start(os.Stdin, os.Stdout)
		return
	}

	switch os.Args[1] {
	case "serve":
		os.Exit(serveCommand(os.Args[2:]))
	case "connect":
		os.Exit(connectCommand(os.Args[2:]))
	case "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  sheetrepl                    start a local REPL\n")
	fmt.Fprintf(os.Stderr, "  sheetrepl serve [--addr=...] start a REPL server\n")
	fmt.Fprintf(os.Stderr, "  sheetrepl connect <host:port> connect to a REPL server\n")
}

func serveCommand(args []string) int {
	addr := "localhost:9000"
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case strings.HasPrefix(arg, "--addr="):
			addr = strings.TrimPrefix(arg, "--addr=")
		case arg == "--addr":
			if i+1 >= len(args) {
				fmt.Fprintf(os.Stderr, "--addr requires a value\n")
				return 2
			}
			i++
			addr = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unexpected argument: %s\n", arg)
			return 2
		}
	}
	if err := repl.Server(addr); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		return 1
	}
	return 0
}

func connectCommand(args []string) int {
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "usage: sheetrepl connect <host:port>\n")
		return 2
	}
	if err := repl.Client(args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "client error: %v\n", err)
		return 1
	}
	return 0
}
