package main

import (
	"os"

	"github.com/soundprediction/ipifhub/cmd/ipifhub"
)

func main() {
	if err := ipifhub.Execute(); err != nil {
		os.Exit(1)
	}
}
