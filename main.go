package main

import (
	"os"

	"github.com/inkwell-md/inkwell/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
