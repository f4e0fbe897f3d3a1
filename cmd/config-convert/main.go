package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/carbonwatch/carbonwatch/pkg/config"
)

func main() {
	var (
		yamlFile   = flag.String("yaml", "", "Path to YAML configuration file (required)")
		sqliteFile = flag.String("sqlite", "", "Path to SQLite database file (required)")
		force      = flag.Bool("force", false, "Overwrite existing SQLite database")
		dryRun     = flag.Bool("dry-run", false, "Show what would be done without executing")
	)
	flag.Parse()

	if *yamlFile == "" || *sqliteFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -yaml <config.yaml> -sqlite <config.db>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	// Check if YAML file exists
	if _, err := os.Stat(*yamlFile); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error: YAML file does not exist: %s\n", *yamlFile)
		os.Exit(1)
	}

	// Check if SQLite file already exists
	if _, err := os.Stat(*sqliteFile); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "Error: SQLite file already exists: %s\n", *sqliteFile)
		fmt.Fprintf(os.Stderr, "Use -force to overwrite or choose a different filename\n")
		os.Exit(1)
	}

	fmt.Printf("Converting YAML configuration to SQLite...\n")
	fmt.Printf("  Source: %s\n", *yamlFile)
	fmt.Printf("  Target: %s\n", *sqliteFile)

	if *dryRun {
		fmt.Println("DRY RUN - No changes will be made")
	}

	// Load and validate the YAML configuration
	fmt.Printf("Loading YAML configuration...\n")
	configData, err := config.Load(config.NewYAMLProvider(*yamlFile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading YAML configuration: %v\n", err)
		os.Exit(1)
	}

	if *dryRun {
		printConfigSummary(configData)
		fmt.Println("DRY RUN complete - no database created")
		return
	}

	// Remove existing SQLite file if force is specified
	if *force {
		if err := os.Remove(*sqliteFile); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error removing existing SQLite file: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Printf("Writing configuration into SQLite database...\n")
	if err := convert(configData, *sqliteFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration into SQLite: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Conversion completed successfully!\n")
	fmt.Printf("You can now use the SQLite backend with: -config-backend sqlite -config %s\n", *sqliteFile)
}

func convert(configData *config.ConfigData, sqliteFile string) error {
	provider, err := config.NewSQLiteProvider(sqliteFile)
	if err != nil {
		return err
	}
	defer provider.Close()

	return provider.SaveConfig(configData)
}

func printConfigSummary(c *config.ConfigData) {
	fmt.Println("\nConfiguration Summary:")
	fmt.Printf("  Upstream: %s (timeout %v)\n", c.Upstream.BaseURL, c.Upstream.Timeout)
	fmt.Printf("  Polling: every %v, live=%v\n", c.Polling.Interval, c.Polling.Live)
	fmt.Printf("  Thresholds: gas %.0f ppm, CO2 spike %.0f%%\n", c.Thresholds.GasPPM, c.Thresholds.CO2SpikePercent)
	fmt.Printf("  Server: %s:%d\n", c.Server.ListenAddr, c.Server.Port)
	fmt.Printf("  Cache: %s (ttl %v)\n", c.Cache.Backend, c.Cache.TTL)
	if c.Kafka.Enabled() {
		fmt.Printf("  Kafka: %v topic %s\n", c.Kafka.Brokers, c.Kafka.Topic)
	}
}
