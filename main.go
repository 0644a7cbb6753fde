// The main package for the trailblaze-scraper executable.
package main

import (
	"os"

	"github.com/trailblaze-app/trailblaze-scraper/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
