package cmd

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

var flagRelayURL string

var rootCmd = &cobra.Command{
	Use:   "meshctl",
	Short: "Command-line client for meshrelay rooms",
	Long: `meshctl creates, joins and manages meshrelay video rooms from the
terminal. Media is negotiated peer to peer over WebRTC; the relay only
carries signaling, presence and admission state.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			TimeFormat: time.TimeOnly,
		})))
	},
}

// Execute runs the root command. Called once from main.
func Execute() {
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagRelayURL, "relay", "http://localhost:13478", "relay base URL")
}
