package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/common/version"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"go.universe.tf/nattable/config"
)

var configFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to the YAML configuration file",
		EnvVars: []string{"NATBOX_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "lan-interface",
		Usage:   "name of the LAN interface",
		Value:   config.DefaultLANInterface,
		EnvVars: []string{"NATBOX_LAN_INTERFACE"},
	},
	&cli.StringFlag{
		Name:    "wan-interface",
		Usage:   "name of the WAN interface",
		Value:   config.DefaultWANInterface,
		EnvVars: []string{"NATBOX_WAN_INTERFACE"},
	},
	&cli.UintFlag{
		Name:    "queue",
		Usage:   "NFQUEUE number to read packets from",
		Value:   config.DefaultQueue,
		EnvVars: []string{"NATBOX_QUEUE"},
	},
	&cli.StringFlag{
		Name:    "metrics-address",
		Usage:   "address to serve Prometheus metrics on, empty to disable",
		EnvVars: []string{"NATBOX_METRICS_ADDRESS"},
	},
	&cli.StringFlag{
		Name:    "log-level",
		Usage:   "log level (panic, fatal, error, warn, info, debug, trace)",
		Value:   log.InfoLevel.String(),
		EnvVars: []string{"NATBOX_LOG_LEVEL"},
	},
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "natbox",
		Usage:   "Translate flows between a LAN and a WAN using a static NAT table",
		Version: version.Version,
		Commands: []*cli.Command{
			{
				Name:   "nat",
				Usage:  "Intercept and mangle packets, acting as a NAT box",
				Flags:  configFlags,
				Action: natbox,
			},
			{
				Name:   "check",
				Usage:  "Validate the configuration and its static mappings",
				Flags:  configFlags,
				Action: check,
			},
			{
				Name:  "version",
				Usage: "Print version and build information",
				Action: func(c *cli.Context) error {
					fmt.Fprintln(c.App.Writer, version.Print("natbox"))
					return nil
				},
			},
		},
	}
}

func check(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err, 1)
	}
	table, err := buildTable(cfg, nil)
	if err != nil {
		return cli.Exit(err, 1)
	}
	for _, m := range table.Mappings() {
		fmt.Fprintln(c.App.Writer, m)
	}
	log.Infof("Configuration OK, %d static mappings", table.Len())
	return nil
}

// loadConfig reads the config file named by --config, if any, then
// applies the flags the user set explicitly on top.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	if c.IsSet("lan-interface") {
		cfg.LANInterface = c.String("lan-interface")
	}
	if c.IsSet("wan-interface") {
		cfg.WANInterface = c.String("wan-interface")
	}
	if c.IsSet("queue") {
		q := c.Uint("queue")
		if q > 0xffff {
			return nil, errors.Errorf("queue number %d out of range", q)
		}
		cfg.Queue = uint16(q)
	}
	if c.IsSet("metrics-address") {
		cfg.MetricsAddress = c.String("metrics-address")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if cfg.LANInterface == cfg.WANInterface {
		return nil, errors.Errorf("LAN and WAN interfaces must differ, both are %q", cfg.LANInterface)
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)
	return cfg, nil
}
