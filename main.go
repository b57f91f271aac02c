package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cppla/mediastage/composer"
	"github.com/cppla/mediastage/config"
	"github.com/cppla/mediastage/routes"
	"github.com/cppla/mediastage/utils"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "mediastage",
		Short:         "Admin media staging service",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "path to the YAML configuration file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the staging sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Purge expired staged uploads once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			n, err := a.sweeper.RunOnce(cmd.Context())
			if errors.Is(err, utils.ErrSweepLocked) {
				fmt.Fprintln(cmd.OutOrStdout(), "another sweep is running")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d staged file(s)\n", n)
			return nil
		},
	})

	var refresh bool
	versionCmd := &cobra.Command{
		Use:   "version <module>",
		Short: "Print the installed version of a module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFrom(configPath)
			if err != nil {
				return err
			}
			cache := utils.NewRedisCache(utils.NewRedis(cfg.Redis))
			if refresh {
				if _, err := cache.InvalidateByPrefix(cmd.Context(), composer.CachePrefix); err != nil {
					return err
				}
			}
			r := composer.NewReader(cfg.Modules, cache, 0, nil)
			fmt.Fprintln(cmd.OutOrStdout(), r.Describe(cmd.Context(), args[0]).Label)
			return nil
		},
	}
	versionCmd.Flags().BoolVar(&refresh, "refresh", false, "drop cached module manifests before reading")
	root.AddCommand(versionCmd)

	return root
}

func serve(ctx context.Context, configPath string) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}

	if err := a.sweeper.Start(a.cfg.Media.SweepSchedule); err != nil {
		return err
	}

	r := routes.SetupRouter(a.cfg, a.handlers)
	srv := utils.NewServer(":"+a.cfg.App.Port, r, a.log)
	srv.OnShutdown(a.sweeper.Stop)
	srv.OnShutdown(func() { _ = a.log.Sync() })

	utils.Sugar.Infof("Starting server on port %s (graceful)", a.cfg.App.Port)
	return srv.ListenAndServe()
}
