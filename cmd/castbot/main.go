package main

import (
	"os"

	"castbot/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
