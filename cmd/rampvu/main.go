package main

import (
	"os"

	"github.com/wesleyorama2/rampvu/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
