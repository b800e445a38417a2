package main

import (
	"os"

	"github.com/krishna3006b/localhosted-tunnel-server/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
