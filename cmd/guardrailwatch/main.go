package main

import (
	"os"

	"github.com/gzhole/guardrailwatch/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
