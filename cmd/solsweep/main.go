package main

import (
	"os"

	"github.com/solsweep/solsweep/internal/app"
)

func main() {
	runner := app.NewRunner()
	os.Exit(runner.Run(os.Args[1:]))
}
