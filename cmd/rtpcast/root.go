package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/opd-ai/rtpcast/config"
	"github.com/opd-ai/rtpcast/logging"
)

// app carries state shared by the subcommands.
type app struct {
	configFile string
	config     *config.Config
	logCloser  io.Closer
}

func newRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "rtpcast",
		Short: "rtpcast - real-time RTP/RTCP delivery engine",
		Long: `rtpcast packetizes encoded audio and video into RTP, sends periodic RTCP
Sender Reports and delivers both over UDP or RTSP TCP interleaving.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configFile)
			if err != nil {
				return err
			}
			closer, err := logging.Init(cfg.Log)
			if err != nil {
				return err
			}
			a.config = cfg
			a.logCloser = closer
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logCloser != nil {
				return a.logCloser.Close()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configFile, "config", "c", "",
		"config file path (defaults and RTPCAST_* environment variables when empty)")

	rootCmd.AddCommand(newPushCommand(a))
	return rootCmd
}
