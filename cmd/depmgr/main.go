package main

import (
	"os"

	"github.com/catherinevee/depmgr/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
