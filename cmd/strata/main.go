// Command strata runs and operates the strata lifecycle engine.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/secondbrain/strata/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "strata:", err)
		os.Exit(1)
	}
}
