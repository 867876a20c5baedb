package main

import (
	"os"

	"github.com/pixperk/flowkey/cmd/flowkey/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
