package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/poltergeist/buildvision/pkg/cli"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	options := cli.NewOptions()
	options.Version = version

	if err := cli.NewCLI(options).Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}
