package main

import (
	"context"
	"os"

	"github.com/example/cocoa-roast-scan/cmd"
)

func main() {
	if err := cmd.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
