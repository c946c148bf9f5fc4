package main

import (
	"fmt"
	"os"

	"github.com/lazypower/frecent/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "frecent:", err)
		os.Exit(1)
	}
}
