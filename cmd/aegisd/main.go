package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/config"
	"github.com/ritwikmohanty/aegis-audit-sub001/internal/infra/db"
	httpinfra "github.com/ritwikmohanty/aegis-audit-sub001/internal/infra/http"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg := config.FromEnv()

	var store *db.Store
	if cfg.PostgresDSN != "" {
		var err error
		store, err = db.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("failed to open run store: %v", err)
		}
	}

	srv := httpinfra.NewServer(cfg, store)
	if err := srv.Run(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
