package main

import (
	"context"
	"log"
	"os"

	"github.com/peervault/peervault/internal/buildinfo"
	"github.com/peervault/peervault/internal/cli"
	"github.com/peervault/peervault/internal/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := cli.NewApp(cfg)

	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	app.Run(ctx)

}
