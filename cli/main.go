package main

import (
	"os"

	"github.com/bugtracker/history-stack/cli/cmd"
	"github.com/bugtracker/history-stack/cli/pkg/output"
)

func main() {
	if err := cmd.Execute(); err != nil {
		output.Error("%v", err)
		os.Exit(1)
	}
}
