package main

import (
	"fmt"
	"os"

	"github.com/ayo6706/ilp-connector/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "connector error: %v\n", err)
		os.Exit(1)
	}
}
