// Command csvwtest serves the CSVW test suite and runs it against processors.
package main

import (
	"context"
	"os"

	"github.com/roach88/csvwtest/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
