package main

import (
	"os"

	"payfast-reconciler/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
