package main

import (
	"os"

	"github.com/TheusHen/roam/cmd/roam/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
