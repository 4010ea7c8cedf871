package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/replinet/cmd/util"
	"github.com/zeusync/replinet/internal/config"
	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/host"
	"github.com/zeusync/replinet/internal/injector"
)

var (
	serverConfig *config.Config
	rootCmd      = &cobra.Command{
		Use:     "replinet-server",
		Short:   "Run a replinet arena server",
		Long:    `Run a replinet arena server. Settings come from the --config file, then REPLINET_<FLAG> environment variables (e.g. REPLINET_MAX_CONNECTIONS=16), then flags.`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)
	util.AddCommonFlags(rootCmd)

	key := "host-name"
	rootCmd.PersistentFlags().String(key, "", util.WrapString("Name announced to clients in the handshake"))

	key = "max-connections"
	rootCmd.PersistentFlags().Int(key, 0, util.WrapString("Maximum number of simultaneous peers"))
}

func processConfig(cmd *cobra.Command, _ []string) error {
	c, err := util.LoadConfig(cmd)
	if err != nil {
		return err
	}
	util.SetString("host", &c.Server.Host)
	util.SetInt("port", &c.Server.Port)
	util.SetInt("update-rate", &c.Server.UpdateRate)
	util.SetString("host-name", &c.Server.HostName)
	util.SetInt("max-connections", &c.Server.MaxConnections)
	if err = c.Validate(); err != nil {
		return err
	}
	serverConfig = c
	return nil
}

func run(cmd *cobra.Command, _ []string) error {
	app, err := injector.InitializeServer(serverConfig)
	if err != nil {
		return err
	}
	s := app.Server

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// the server can also stop on its own; take the HTTP side down with it
		defer stop()
		return host.Run(ctx, s, app.Logger)
	})

	if addr := serverConfig.MetricsAddr; addr != "" {
		httpServer, err := host.NewHTTPServer(addr, app.Metrics, func() any {
			return map[string]any{
				"role":      "server",
				"state":     s.State().String(),
				"tick":      s.Tick(),
				"tick_rate": s.TickRate(),
				"peers":     len(s.Accepted()),
				"metrics":   app.Metrics.Snapshot(),
			}
		}, app.Logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return httpServer.Serve(ctx) })
	}

	err = g.Wait()
	app.Logger.Info("Server exited",
		log.String("state", s.State().String()),
		log.Uint64("ticks", s.Tick()))
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
