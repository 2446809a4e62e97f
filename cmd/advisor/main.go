// Command advisor generates ranked, self-reviewed option-writing
// recommendations for a scoped set of NSE underlyings.
package main

import (
	"os"

	"options-advisor/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
