package main

import (
	"log"

	"github.com/openviewer/gridman/internal/app"
)

func main() {
	if err := app.New().Run(); err != nil {
		log.Fatalf("gridman failed to start: %v", err)
	}
}
