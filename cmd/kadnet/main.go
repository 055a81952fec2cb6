// Package main provides the command-line interface for running a kadnet DHT
// node: binding a listener, optionally bootstrapping into an existing
// network, and serving find_node/find_value/store requests until shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kadnet/kadnet/dht"
	"github.com/kadnet/kadnet/store"
	"github.com/sirupsen/logrus"
)

// CLIConfig holds command-line configuration for a node process.
type CLIConfig struct {
	listenPort       uint
	initialNode      string
	encrypt          bool
	bootstrapTimeout time.Duration
	verbose          bool
	veryVerbose      bool
	help             bool
}

// parseCLIFlags parses command-line flags and returns the configuration.
// Network flags: -listen-port/-p, -initial-node/-n, -encrypt
// Timeout flags: -bootstrap-timeout
// Logging flags: -v, -vv
// Help flag: -help
func parseCLIFlags() *CLIConfig {
	config := &CLIConfig{}

	flag.UintVar(&config.listenPort, "listen-port", 9999, "Local port to bind the DHT listener")
	flag.UintVar(&config.listenPort, "p", 9999, "Shorthand for -listen-port")
	flag.StringVar(&config.initialNode, "initial-node", "", "Bootstrap peer host:port to join through (optional)")
	flag.StringVar(&config.initialNode, "n", "", "Shorthand for -initial-node")
	flag.BoolVar(&config.encrypt, "encrypt", false, "Require a Noise-secured session on every connection")

	flag.DurationVar(&config.bootstrapTimeout, "bootstrap-timeout", 10*time.Second, "Timeout for the bootstrap handshake and initial find_node")

	flag.BoolVar(&config.verbose, "v", false, "Enable debug logging")
	flag.BoolVar(&config.veryVerbose, "vv", false, "Enable trace logging")

	flag.BoolVar(&config.help, "help", false, "Show help message")

	flag.Parse()
	return config
}

func printUsage() {
	fmt.Println("kadnet - a Kademlia-style distributed hash table node")
	fmt.Println("======================================================")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  %s [options]\n", os.Args[0])
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Printf("  # Start the first node in a new network\n")
	fmt.Printf("  %s -listen-port 9999\n", os.Args[0])
	fmt.Println()
	fmt.Printf("  # Join an existing network\n")
	fmt.Printf("  %s -p 9000 -n 203.0.113.5:9999\n", os.Args[0])
	fmt.Println()
	fmt.Printf("  # Require encrypted sessions\n")
	fmt.Printf("  %s -listen-port 9999 -encrypt\n", os.Args[0])
}

func validateCLIConfig(config *CLIConfig) error {
	if config.listenPort == 0 || config.listenPort > 65535 {
		return fmt.Errorf("invalid listen port: must be between 1 and 65535")
	}
	if config.bootstrapTimeout <= 0 {
		return fmt.Errorf("bootstrap timeout must be positive")
	}
	return nil
}

func configureLogging(config *CLIConfig) {
	level := logrus.InfoLevel
	switch {
	case config.veryVerbose:
		level = logrus.TraceLevel
	case config.verbose:
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

func setupSignalHandling(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logrus.WithFields(logrus.Fields{
			"signal":  sig.String(),
			"context": "signal_handling",
		}).Info("received shutdown signal, closing node")
		cancel()
	}()
}

func main() {
	os.Exit(run())
}

// run executes the main application logic and returns an exit code. This
// allows deferred cleanup (node.Close) to run before the process exits.
func run() int {
	cliConfig := parseCLIFlags()

	if cliConfig.help {
		printUsage()
		return 0
	}

	if err := validateCLIConfig(cliConfig); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Use -help for usage information.")
		return 1
	}

	configureLogging(cliConfig)

	listenAddress := fmt.Sprintf("0.0.0.0:%d", cliConfig.listenPort)
	node, err := dht.NewDhtNode(dht.Config{
		ListenAddress:    listenAddress,
		Store:            store.NewMemory(),
		EnableEncryption: cliConfig.encrypt,
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"error":   err.Error(),
			"context": "node_startup",
		}).Error("failed to start DHT node")
		return 1
	}
	defer func() {
		if err := node.Close(); err != nil {
			logrus.WithFields(logrus.Fields{"error": err.Error()}).Warn("error during shutdown")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"self_key": node.SelfKey().String(),
		"listen":   listenAddress,
		"encrypt":  cliConfig.encrypt,
	}).Info("node started")

	if cliConfig.initialNode != "" {
		ctx, cancel := context.WithTimeout(context.Background(), cliConfig.bootstrapTimeout)
		err := node.Bootstrap(ctx, cliConfig.initialNode)
		cancel()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":        err.Error(),
				"initial_node": cliConfig.initialNode,
				"context":      "bootstrap",
			}).Error("failed to bootstrap into network")
			return 1
		}
		logrus.WithFields(logrus.Fields{"initial_node": cliConfig.initialNode}).Info("bootstrap complete")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandling(cancel)

	<-ctx.Done()
	logrus.Info("shutting down")
	return 0
}
