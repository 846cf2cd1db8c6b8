package main

import (
	"os"

	"github.com/barryq93/wisdomgraph/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
