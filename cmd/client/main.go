package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/replinet/cmd/util"
	"github.com/zeusync/replinet/internal/arena"
	"github.com/zeusync/replinet/internal/config"
	"github.com/zeusync/replinet/internal/core/endpoint"
	"github.com/zeusync/replinet/internal/core/observability/log"
	"github.com/zeusync/replinet/internal/host"
	"github.com/zeusync/replinet/internal/injector"
)

var (
	clientConfig *config.Config
	rootCmd      = &cobra.Command{
		Use:   "replinet-client",
		Short: "Join a replinet arena server",
		Long: `Join a replinet arena server. Lines typed on stdin are sent as chat;
"/steer X Y" steers your pawn, "/where" prints its position and "/quit" leaves.`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)
	util.AddCommonFlags(rootCmd)

	key := "user-id"
	rootCmd.PersistentFlags().Uint64(key, 0, util.WrapString("User id sent in the connect request"))

	key = "name"
	rootCmd.PersistentFlags().String(key, "", util.WrapString("Display name sent in the connect request"))

	key = "connect-timeout"
	rootCmd.PersistentFlags().Duration(key, 0, util.WrapString("How long to wait for the server to accept us"))
}

func processConfig(cmd *cobra.Command, _ []string) error {
	c, err := util.LoadConfig(cmd)
	if err != nil {
		return err
	}
	util.SetString("host", &c.Client.Host)
	util.SetInt("port", &c.Client.Port)
	util.SetInt("update-rate", &c.Client.UpdateRate)
	util.SetString("name", &c.Client.DisplayName)
	if viper.IsSet("user-id") {
		c.Client.UserID = viper.GetUint64("user-id")
	}
	if viper.IsSet("connect-timeout") {
		c.Client.ConnectTimeout = viper.GetDuration("connect-timeout")
	}
	if err = c.Validate(); err != nil {
		return err
	}
	clientConfig = c
	return nil
}

func run(cmd *cobra.Command, _ []string) error {
	app, err := injector.InitializeClient(clientConfig)
	if err != nil {
		return err
	}
	c, logger := app.Client, app.Logger

	if _, err = c.OnConnected(func(ev endpoint.Connected) error {
		logger.Info("Joined arena", log.String("host", ev.HostName), log.Int("tick_rate", ev.TickRate))
		return nil
	}); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	lines := make(chan string, 16)
	go readLines(lines)

	g.Go(func() error {
		defer stop()
		return host.Run(ctx, c, logger, func() error {
			return command(app.Pilot, c, logger, lines)
		})
	})

	if addr := clientConfig.MetricsAddr; addr != "" {
		httpServer, err := host.NewHTTPServer(addr, app.Metrics, func() any {
			return map[string]any{
				"role":      "client",
				"state":     c.State().String(),
				"connected": c.Connected(),
				"tick":      c.Tick(),
				"metrics":   app.Metrics.Snapshot(),
			}
		}, logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return httpServer.Serve(ctx) })
	}

	if err = g.Wait(); err != nil {
		return err
	}
	if reason := c.RejectReason(); reason != "" {
		return fmt.Errorf("rejected: %s", reason)
	}
	logger.Info("Left arena", log.String("reason", c.DisconnectReason()))
	return nil
}

func readLines(out chan<- string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
	close(out)
}

// command applies the stdin lines read since the last update.
func command(pilot *arena.Pilot, c *endpoint.Client, logger log.Log, lines <-chan string) error {
	for {
		var line string
		select {
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		default:
			return nil
		}

		fields := strings.Fields(line)
		switch {
		case len(fields) == 0:
		case fields[0] == "/quit":
			c.Shutdown()
			return nil
		case fields[0] == "/where":
			if p, ok := pilot.Pawn(); ok {
				pos := p.Position()
				fmt.Printf("%s at (%.2f, %.2f)\n", p.Name(), pos.X(), pos.Y())
			}
		case fields[0] == "/steer":
			dir, err := parseDirection(fields[1:])
			if err != nil {
				logger.Warn("Bad steer command", log.Error(err))
				continue
			}
			if err = pilot.Steer(dir); err != nil {
				return err
			}
		default:
			if err := pilot.Say(line); err != nil {
				return err
			}
		}
	}
}

func parseDirection(args []string) (mgl64.Vec3, error) {
	if len(args) != 2 {
		return mgl64.Vec3{}, fmt.Errorf("want X Y, got %d values", len(args))
	}
	var dir mgl64.Vec3
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return mgl64.Vec3{}, err
		}
		dir[i] = v
	}
	return dir, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
