package main

import (
	"os"

	"github.com/rustyeddy/riskledger/cmd/riskledger/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
