package main

import (
	"os"

	"github.com/Robin-Kumar-rk/Cheat-Crusher/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
