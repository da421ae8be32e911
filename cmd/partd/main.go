package main

import (
	"github.com/criticalstack/partd/cmd/partd/app"
	"github.com/criticalstack/partd/pkg/log"
)

func main() {
	if err := app.Execute(); err != nil {
		log.Fatalf("%+v", err)
	}
}
