package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/VanDung-dev/stellar-gateway/api"
	"github.com/VanDung-dev/stellar-gateway/app"
	"github.com/VanDung-dev/stellar-gateway/config"
)

const defaultConfigPath = "~/.stellar-gateway/config.toml"

func main() {
	cliApp := &cli.App{
		Name:    "stellar-gateway",
		Usage:   "Synchronous gateway in front of a Stellar RPC endpoint",
		Version: api.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   defaultConfigPath,
				Usage:   "path to the TOML config file",
				EnvVars: []string{"STELLAR_GATEWAY_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override the configured log level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{runCmd, configCmd},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(cctx *cli.Context) (*config.Config, error) {
	cfg, err := config.FromFile(cctx.String("config"))
	if err != nil {
		return nil, xerrors.Errorf("loading config: %w", err)
	}
	if lvl := cctx.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "Start the gateway and serve until interrupted",
	Action: func(cctx *cli.Context) error {
		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}

		gw := app.New(cfg)
		if err := gw.Err(); err != nil {
			return xerrors.Errorf("building gateway: %w", err)
		}

		startCtx, cancel := context.WithTimeout(cctx.Context, gw.StartTimeout())
		defer cancel()
		if err := gw.Start(startCtx); err != nil {
			return xerrors.Errorf("starting gateway: %w", err)
		}

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		stopCtx, cancel := context.WithTimeout(context.Background(), app.DrainTimeout+gw.StopTimeout())
		defer cancel()
		return gw.Stop(stopCtx)
	},
}

var configCmd = &cli.Command{
	Name:  "config",
	Usage: "Manage the gateway configuration",
	Subcommands: []*cli.Command{
		{
			Name:  "default",
			Usage: "Print the commented default config",
			Action: func(cctx *cli.Context) error {
				out, err := config.DefaultComment(config.Default())
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			},
		},
		{
			Name:      "init",
			Usage:     "Write the default config to the --config path if absent",
			ArgsUsage: " ",
			Action: func(cctx *cli.Context) error {
				path := cctx.String("config")
				exists, err := config.ConfigExist(path)
				if err != nil {
					return err
				}
				if exists {
					return xerrors.Errorf("config already exists at %s", path)
				}
				if err := config.SaveConfig(path, config.Default()); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", path)
				return nil
			},
		},
	},
}
