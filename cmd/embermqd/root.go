package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/haraldkvale/embermq/internal/broker"
	"github.com/haraldkvale/embermq/internal/config"
	"github.com/haraldkvale/embermq/internal/logging"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string
var logLevel string

var rootCmd = &cobra.Command{
	Use:   "embermqd [address]",
	Short: "embermqd is an MQTT 3.1.1 broker",
	Long: `embermqd runs the session manager and event-loop coordinator
that arbitrate client identity and own the subscription table for an
MQTT 3.1.1 broker.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v := viper.New()
		cfg, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if len(args) == 1 {
			cfg.ListenAddress = args[0]
		}

		logging.SetLevelFromName(cfg.LogLevel)
		return serve(cfg.ListenAddress)
	},
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.embermqd.yaml)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
}

// serve runs the broker coordinator and accepts connections on
// address until interrupted. Decoding MQTT packets off the wire and
// writing them back is the job of a framing collaborator outside this
// package; serve's accept loop only proves out the coordinator against
// real sockets, handing each connection a ConnectionHandle and relying
// on that collaborator to translate bytes into Messages.
func serve(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return logging.LoggedErrorf("listening on %s: %v", address, err)
	}
	defer listener.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := broker.New(logging.ForClient("-"))
	go b.Run(ctx)

	log.WithField("address", address).Info("embermqd listening")

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info("embermqd shutting down")
				return nil
			default:
				return logging.LoggedErrorf("accepting connection: %v", err)
			}
		}
		log.WithField("remote", conn.RemoteAddr()).Debug("accepted connection, awaiting framing collaborator")
		conn.Close()
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
