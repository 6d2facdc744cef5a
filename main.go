package main

import (
	"os"

	"github.com/cppla/livewell/cli"
)

func main() {
	os.Exit(cli.Execute())
}
