package main

import (
	"os"

	"github.com/attune-ai/attune/cli"
)

func main() {
	os.Exit(cli.Execute())
}
