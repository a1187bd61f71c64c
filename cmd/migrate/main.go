// migrate applies the embedded schema: go run ./cmd/migrate -direction up.
package main

import (
	"flag"
	"fmt"
	"os"

	"stockroom/cmd/internal/app"
	"stockroom/cmd/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "STOCKROOM_DATABASE_URL is not set; export it or add it to .env")
		os.Exit(1)
	}

	if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
	fmt.Println("migrate:", *direction, "ok")
}
