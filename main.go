package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"

	"CropDetServer/cmd"
)

const version = "2.0.0"

func main() {
	if err := fang.Execute(
		context.Background(),
		cmd.NewRootCmd(),
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
