package main

import (
	"fmt"
	"os"

	"github.com/roach88/hvcflow/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "hvcflow:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
