package main

import (
	"os"

	"github.com/supporttools/GoDBVault/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
