package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kafkaops/agent/internal/app"
	"github.com/kafkaops/agent/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to config file (overrides KAFKAOPS_CONFIG_FILE)")
	template := flag.String("template", "", "named deployment template to start from (overrides KAFKAOPS_TEMPLATE)")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = os.Getenv("KAFKAOPS_CONFIG_FILE")
	}
	tpl := *template
	if tpl == "" {
		tpl = os.Getenv("KAFKAOPS_TEMPLATE")
	}

	var mgr *config.Manager
	var err error
	if tpl != "" {
		mgr, err = config.NewManagerFromTemplate(tpl, path)
	} else {
		mgr, err = config.NewManager(path)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, mgr); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
