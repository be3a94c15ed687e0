package main

import (
	"flag"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/lmittmann/tint"
	"github.com/openconf/meshrelay/internal/config"
	"github.com/openconf/meshrelay/internal/metrics"
	"github.com/openconf/meshrelay/internal/relay"
	"github.com/openconf/meshrelay/internal/store"
)

func main() {
	configDir := flag.String("config", "./conf", "directory with server/security/webrtc/rooms config files")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	})))

	manager, err := config.NewManager(*configDir)
	if err != nil {
		slog.Error("failed to load configuration", "dir", *configDir, "error", err)
		os.Exit(1)
	}
	cfg := manager.Get()

	st, err := store.Open(cfg.Rooms.StorePath)
	if err != nil {
		slog.Error("failed to open room store", "path", cfg.Rooms.StorePath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	metrics.StartTime.Set(float64(time.Now().Unix()))

	app := fiber.New(fiber.Config{
		BodyLimit: 1024 * 1024,
	})

	server := relay.NewServer(manager, st, app)
	defer server.Close()
	server.SetupRoutes()

	addr := ":" + strconv.Itoa(cfg.Server.Port)
	if cfg.Security.TLSCrtFile != nil && cfg.Security.TLSKeyFile != nil {
		slog.Info("relay listening with TLS", "addr", addr)
		if err := app.ListenTLS(addr, *cfg.Security.TLSCrtFile, *cfg.Security.TLSKeyFile); err != nil {
			slog.Error("server stopped", "error", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("relay listening", "addr", addr)
	if err := app.Listen(addr); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
