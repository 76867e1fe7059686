package main

import (
	"os"

	"github.com/etiennedemoulin/soundworks-state-manager-osc/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
