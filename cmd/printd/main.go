package main

import (
	"fmt"
	"os"

	"github.com/orrn/kitchenprint/internal/cli"
)

func main() {
	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "printd: %v\n", err)
		os.Exit(1)
	}
}
