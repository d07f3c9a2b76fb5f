package main

import (
	"os"

	"github.com/soundprediction/memoria/cmd/memoria"
)

func main() {
	if err := memoria.Execute(); err != nil {
		os.Exit(1)
	}
}
