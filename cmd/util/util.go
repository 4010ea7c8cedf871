// Package util holds the flag and configuration plumbing shared by the
// replinet commands.
package util

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zeusync/replinet/internal/config"
)

// Wrap is the number of characters help text is wrapped at.
const Wrap = 50

// WrapString wraps text at Wrap characters.
func WrapString(text string) string {
	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > Wrap {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

// InitConfig loads .env files and maps REPLINET_<FLAG> variables onto flags.
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("replinet")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// AddCommonFlags adds the flags every command understands.
func AddCommonFlags(cmd *cobra.Command) {
	key := "config"
	cmd.PersistentFlags().String(key, "", WrapString("Path of a YAML configuration file. Flags and environment variables override its values"))

	key = "transport"
	cmd.PersistentFlags().String(key, "quic", WrapString("Transport provider to use (quic, websocket, tcp, loopback)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "info", WrapString("Level at which logs are written (debug, info, warn, error)"))

	key = "metrics-addr"
	cmd.PersistentFlags().String(key, "", WrapString("Address serving /metrics and /status over HTTP, e.g. :9100. Empty disables it"))

	key = "host"
	cmd.PersistentFlags().String(key, "", WrapString("Host to listen on (server) or connect to (client)"))

	key = "port"
	cmd.PersistentFlags().Int(key, 0, WrapString("Port to listen on (server) or connect to (client)"))

	key = "update-rate"
	cmd.PersistentFlags().Int(key, 0, WrapString("Ticks per second"))
}

// LoadConfig binds the command flags and reads the configuration file named
// by --config. Common flags that were set explicitly override the file.
func LoadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	c, err := config.LoadFile(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if viper.IsSet("transport") {
		c.Transport.Name = viper.GetString("transport")
	}
	if viper.IsSet("log-level") {
		c.LogLevel = viper.GetString("log-level")
	}
	if viper.IsSet("metrics-addr") {
		c.MetricsAddr = viper.GetString("metrics-addr")
	}
	return c, nil
}

// SetString copies the viper value of key into dst if it was set.
func SetString(key string, dst *string) {
	if viper.IsSet(key) {
		*dst = viper.GetString(key)
	}
}

// SetInt copies the viper value of key into dst if it was set.
func SetInt(key string, dst *int) {
	if viper.IsSet(key) {
		*dst = viper.GetInt(key)
	}
}
