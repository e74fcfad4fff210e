package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/apiclient"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/config"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "syncctl",
	Short: "Broadcast sync CLI",
	Long: `syncctl joins a synchronized broadcast and administers a sync server.
- join: connect as source, moderator or observer and follow (or drive) playback.
- feedback: submit, list, triage, export and import moderator annotations.
- sessions / status: inspect who is connected and what is being shown.
- token: mint a handshake token for a role.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SYNCCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("server", "http://localhost:8086", "sync server base url")
	rootCmd.PersistentFlags().String("token", "", "bearer token for the handshake and moderator endpoints")
	rootCmd.PersistentFlags().String("config", "", "server config file for reconnect, heartbeat and webrtc settings")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(joinCmd())
	rootCmd.AddCommand(feedbackCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(tokenCmd())
}

func newClient() *apiclient.Client {
	return apiclient.New(viper.GetString("server"), viper.GetString("token"))
}

func loadConfig() (*config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func newLogger() *slog.Logger {
	return slog.New(logger.NewHandler(os.Stderr, "text", logger.ParseLevel(viper.GetString("log-level"))))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
