package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/riptide-dl/riptide/internal/client"
	"github.com/riptide-dl/riptide/internal/config"
	"github.com/riptide-dl/riptide/internal/logging"
	"github.com/riptide-dl/riptide/internal/version"
)

var (
	flagPort           int
	flagConnectTimeout time.Duration
	flagIOTimeout      time.Duration
	flagVerbose        bool
)

var rootCmd = &cobra.Command{
	Use:   "riptide <torrent-file>",
	Short: "Announce a torrent and handshake with every discovered peer",
	Long: `Riptide parses a .torrent file, asks the tracker for peers and performs
the peer wire handshake with each of them concurrently, then disconnects.
Individual peer failures never fail the run; the exit code is non-zero only
when the file cannot be parsed, the tracker cannot be reached or a peer task
faulted internally.`,
	Version:      version.Version,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.New(os.Stderr, flagVerbose)

		settings, err := config.LoadSettings(config.SettingsPath())
		if err != nil {
			log.Warn().Err(err).Msg("failed to load settings, using defaults")
		}
		port, err := portValue(settings.Network.ListenPort)
		if err != nil {
			return fmt.Errorf("settings: %w", err)
		}
		if cmd.Flags().Changed("port") {
			if port, err = portValue(flagPort); err != nil {
				return err
			}
		}
		cfg := client.Config{
			StreamConnectTimeout: settings.Timeouts.StreamConnect,
			HandshakeIOTimeout:   settings.Timeouts.HandshakeIO,
			Port:                 port,
		}
		if cmd.Flags().Changed("connect-timeout") {
			cfg.StreamConnectTimeout = flagConnectTimeout
		}
		if cmd.Flags().Changed("io-timeout") {
			cfg.HandshakeIOTimeout = flagIOTimeout
		}

		summary, err := client.New(cfg, log).Download(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d peers attempted, %d handshakes succeeded, %d failed\n",
			summary.Torrent, summary.Attempted, summary.Succeeded, summary.Failed)
		return nil
	},
}

// portValue rejects ports outside the TCP range instead of letting the
// uint16 conversion silently wrap them.
func portValue(p int) (uint16, error) {
	if p < 1 || p > 65535 {
		return 0, fmt.Errorf("port %d is out of range (1-65535)", p)
	}
	return uint16(p), nil
}

func init() {
	rootCmd.Flags().IntVar(&flagPort, "port", 6881, "port reported to the tracker")
	rootCmd.Flags().DurationVar(&flagConnectTimeout, "connect-timeout", 30*time.Second, "peer connection timeout")
	rootCmd.Flags().DurationVar(&flagIOTimeout, "io-timeout", 30*time.Second, "handshake send/receive timeout")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "log per-peer handshake progress")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
