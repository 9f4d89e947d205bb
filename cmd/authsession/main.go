package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/internal/logging"
	"github.com/urfave/cli/v3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.GetEnv(), cfg.GetLogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := newRunner(cfg, logger)
	app := &cli.Command{
		Name:  "authsession",
		Usage: "Run session tabs, the tab relay and a fake auth backend",
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			displayAppname(cfg.GetAppName())
			return ctx, nil
		},
		Commands: r.register(),
	}

	if err := app.Run(ctx, os.Args); err != nil {
		logger.Fatal().Err(err).Msg("application error")
	}
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
