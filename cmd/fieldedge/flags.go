package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	ConfigPath      string
	Tag             string
	ProxyTarget     string
	MetricsPort     int
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("FIELDEDGE_CONFIG", ""),
		"Path to YAML configuration file (env: FIELDEDGE_CONFIG)")
	flag.StringVar(&cfg.Tag, "tag", "",
		"Service tag, overrides the configured tag")
	flag.StringVar(&cfg.ProxyTarget, "proxy", "",
		"Tag of a remote service to proxy and mirror")
	flag.IntVar(&cfg.MetricsPort, "metrics-port", 9090,
		"Prometheus metrics port, 0 to disable")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 10*time.Second,
		"Graceful shutdown timeout")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, `%s - FieldEdge inter-service coordination demo

Usage: %s [options]

Options:
`, appName, os.Args[0])
		flag.PrintDefaults()
		_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run with a config file
  %s --config=/etc/fieldedge/demo.yaml

  # Run against the local broker under a specific tag
  %s --tag=demo

  # Mirror the modem service's properties
  %s --tag=gateway --proxy=modem
`, os.Args[0], os.Args[0], os.Args[0])
	}

	flag.Parse()
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
