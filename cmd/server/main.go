// Command server runs the secure mail backend.
package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/securemail/internal/server"
	"github.com/dmitrijs2005/securemail/internal/server/config"
)

func main() {
	ctx := context.Background()

	app, err := server.NewApp(ctx, config.LoadConfig())
	if err != nil {
		log.Fatalf("securemail: %v", err)
	}

	app.Run(ctx)
}
