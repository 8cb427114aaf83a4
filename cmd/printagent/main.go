package main

import (
	"fmt"
	"os"

	"github.com/orrn/kitchenprint/internal/cli"
)

func main() {
	if err := cli.BuildAgentCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "printagent: %v\n", err)
		os.Exit(1)
	}
}
