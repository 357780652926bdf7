package main

import (
	"os"

	"github.com/livebridge/livebridge/server/cmd"
)

func main() {
	os.Exit(cmd.StartLiveBridge(os.Args))
}
