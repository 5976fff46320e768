package main

import (
	"os"

	"busbot/cmd/busbot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
