package main

import (
	"os"

	"genqueue/cmd/genctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
