package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/eskrenkovic/price-tracker/internal/config"
	"github.com/eskrenkovic/price-tracker/internal/server"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

// The optional argument is the directory holding config.env. Variables
// already present in the environment win over the file.
func main() {
	if len(os.Args) > 1 {
		rootPath := os.Args[1]
		if rootPath == "" {
			log.Fatal("root directory path is empty")
		}

		if err := godotenv.Load(path.Join(rootPath, "config.env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Fatal(err)
		}
	}

	conf, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = conf.Logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewHTTPServer(ctx, conf)
	if err != nil {
		conf.Logger.Fatal("failed to build server", zap.Error(err))
	}

	errs := make(chan error, 1)
	go func() {
		errs <- srv.Start()
	}()

	select {
	case err := <-errs:
		if err != nil {
			conf.Logger.Error("server stopped", zap.Error(err))
		}
	case <-ctx.Done():
		conf.Logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		conf.Logger.Error("failed to stop server cleanly", zap.Error(err))
	}
}
