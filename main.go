package main

import (
	"fmt"
	"os"

	"github.com/garder500/holystore/cmd/holystore"
)

func main() {
	if err := holystore.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
