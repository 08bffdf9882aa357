package main

import (
	"github.com/YasiruR/walletconnect-prober/cli"
	"os"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
