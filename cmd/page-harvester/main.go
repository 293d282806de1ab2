package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"page-harvester/pkg/config"
	"page-harvester/pkg/crawler"
	"page-harvester/pkg/fetch"
	"page-harvester/pkg/storage"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runHarvest(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "version":
		fmt.Printf("page-harvester %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `page-harvester - Single-pass headless-browser page harvester

Usage:
  page-harvester <command> [options]

Commands:
  run         Harvest the configured start URLs
  validate    Validate configuration file
  version     Show version info

Run 'page-harvester <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.CrawlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.CrawlConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
		log.Infof("Setting log level to: %s", level.String())
	}

	return log
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: page-harvester validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "OK: %d start URL(s), concurrency %d\n", len(cfg.StartURLs), cfg.MaxConcurrency)
	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runHarvest handles the run subcommand
func runHarvest(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	stateDir := fs.String("state-dir", "", "Override state directory from config")
	pprofAddr := fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: page-harvester run [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  page-harvester run -config config.yaml\n")
		fmt.Fprintf(os.Stderr, "  page-harvester run -config config.yaml -loglevel debug\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	executeHarvest(*configFile, *logLevel, *stateDir, *pprofAddr)
}

func executeHarvest(configFile, logLevelStr, stateDirOverride, pprofAddr string) {
	log := setupLogger(logLevelStr)

	// --- Load and Validate Configuration ---
	log.Infof("Loading configuration from %s", configFile)
	cfg, err := loadConfig(configFile)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	if stateDirOverride != "" {
		cfg.StateDir = stateDirOverride
	}

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	logEffectiveConfig(cfg, log)

	startPprof(pprofAddr, log)

	// ===========================================================
	// == Setup Global Context & Signal Handling ==
	// ===========================================================
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		sig := <-sigChan
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancelRun()

		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	// ===========================================================
	// == Initialize Components ==
	// ===========================================================
	log.Info("Initializing components...")
	logEntry := log.WithField("component", "harvest")

	sink, err := storage.NewBadgerSink(cfg.StateDir, runName(cfg.StartURLs), logEntry)
	if err != nil {
		log.Fatalf("Failed to initialize result DB: %v", err)
	}
	defer sink.Close()

	browserFetcher, err := fetch.NewBrowserFetcher(cfg, logEntry)
	if err != nil {
		log.Fatalf("Failed to launch browser: %v", err)
	}
	defer browserFetcher.Close()

	fetcher := fetch.NewRetryingFetcher(browserFetcher, cfg, logEntry)

	var robots *fetch.RobotsGate
	if cfg.RespectRobotsTxt {
		robots = fetch.NewRobotsGate(cfg.UserAgent, logEntry)
		log.Info("robots.txt gate enabled")
	}

	harvester := crawler.NewHarvester(cfg, fetcher, robots, sink, logEntry)

	// ===========================================================
	// == Run ==
	// ===========================================================
	err = harvester.Run(runCtx)

	// --- Exit ---
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("Harvest cancelled gracefully.")
			os.Exit(0)
		}
		log.Errorf("Harvest finished with error: %v", err)
		os.Exit(1)
	}

	log.Info("Harvest completed successfully.")
}

// runName derives the sink directory name from the first start URL's host.
func runName(startURLs []string) string {
	if len(startURLs) > 0 {
		if u, err := url.Parse(startURLs[0]); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	return "harvest"
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr != "" {
		go func() {
			log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Errorf("pprof server error: %v", err)
			}
		}()
	}
}

// logEffectiveConfig logs the configuration after defaults were applied.
func logEffectiveConfig(cfg *config.CrawlConfig, log *logrus.Logger) {
	log.Infof("Config: StartURLs:%d, Concurrency:%d, MaxItems:%d, Format:%s",
		len(cfg.StartURLs), cfg.MaxConcurrency, cfg.MaxItems, cfg.OutputFormat)
	log.Infof("Config Toggles: Analytics:%t, QualityCheck:%t, RobotsTxt:%t",
		cfg.EnableAnalytics, cfg.DataQualityCheck, cfg.RespectRobotsTxt)
	log.Infof("Config Retries: Max:%d, InitialDelay:%v, MaxDelay:%v",
		cfg.MaxRetries, cfg.InitialRetryDelay, cfg.MaxRetryDelay)
	log.Infof("Config Timing: PageReadyTimeout:%v, SettleDelay:%v",
		cfg.PageReadyTimeout, cfg.SettleDelay)
	log.Infof("Config State: Dir:%s, BrowserPool:%d",
		cfg.StateDir, cfg.Browser.MaxPages)
}
