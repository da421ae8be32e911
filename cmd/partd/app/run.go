package app

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/criticalstack/partd/pkg/config"
	"github.com/criticalstack/partd/pkg/log"
	"github.com/criticalstack/partd/pkg/node"
	"github.com/criticalstack/partd/pkg/partition"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run the partition group membership service",
	Run: func(cmd *cobra.Command, args []string) {
		if viper.GetBool("verbose") {
			log.SetLevel(zapcore.DebugLevel)
		}

		cfg := &config.Config{}
		if path := viper.GetString("config"); path != "" {
			var err error
			cfg, err = config.Load(path)
			if err != nil {
				log.Fatal(err)
			}
		}

		// user-provided flags take precedence over the config file
		if viper.GetString("name") != "" {
			cfg.Name = viper.GetString("name")
		}
		if viper.GetString("host") != "" {
			cfg.Host = viper.GetString("host")
		}
		if viper.GetInt("port") != 0 {
			cfg.Port = viper.GetInt("port")
		}
		if viper.GetString("gossip-addr") != "" {
			cfg.GossipAddr = viper.GetString("gossip-addr")
		}
		if viper.GetString("bootstrap-addrs") != "" {
			cfg.BootstrapAddrs = strings.Split(viper.GetString("bootstrap-addrs"), ",")
		}

		if err := cfg.Validate(partition.DefaultTypeRegistry()); err != nil {
			log.Fatal(err)
		}
		groups, err := cfg.GroupsConfig()
		if err != nil {
			log.Fatal(err)
		}
		gossipHost, gossipPort, err := cfg.GossipHostPort()
		if err != nil {
			log.Fatal(err)
		}

		memberlistLogLevel := zapcore.ErrorLevel
		if viper.GetBool("verbose") {
			memberlistLogLevel = zapcore.DebugLevel
		}
		n := node.New(&node.Config{
			MemberID:           cfg.MemberID(),
			Host:               cfg.Host,
			Port:               cfg.Port,
			GossipHost:         gossipHost,
			GossipPort:         gossipPort,
			BootstrapAddrs:     cfg.BootstrapAddrs,
			Groups:             groups,
			MemberlistLogLevel: memberlistLogLevel,
		})

		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-ch
			log.Info("shutting down ...")
			n.Stop()
		}()

		if err := n.Run(); err != nil {
			log.Fatal(err)
		}
	},
}

func init() {
	runCmd.Flags().String("config", "", "node configuration file")
	runCmd.Flags().String("name", "", "member name, generated when left empty")
	runCmd.Flags().String("host", "", "host ip used for cluster traffic")
	runCmd.Flags().Int("port", 0, "cluster messaging port")
	runCmd.Flags().String("gossip-addr", "", "address used for gossip network")
	runCmd.Flags().String("bootstrap-addrs", "", "comma-separated addresses used to bootstrap the gossip network")
	viper.BindPFlags(runCmd.Flags())
}
