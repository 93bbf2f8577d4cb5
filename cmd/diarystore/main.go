// Command diarystore operates an append-only clinical diary record store.
package main

import (
	"os"

	"github.com/roach88/diarystore/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
