package main

import (
	"context"

	"github.com/pbeaudequin/exporter-meteo-chamois/cmd/meteo-check/commands"
)

func main() {
	commands.ExecuteContext(context.Background())
}
