package main

import (
	"os"

	"github.com/ballardtrucks/roundup/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
