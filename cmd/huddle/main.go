package main

import (
	"fmt"
	"os"

	"github.com/roach88/huddle/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "huddle:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
