package main

import (
	"os"

	"newsbrief/cmd/handlers"
)

func main() {
	if err := handlers.Execute(); err != nil {
		os.Exit(1)
	}
}
