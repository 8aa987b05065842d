// Command router runs one OpenSRF-style bus router for a single domain.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/opensrf-go/opensrf/bus"
	"github.com/opensrf-go/opensrf/config"
	"github.com/opensrf-go/opensrf/obslog"
	"github.com/opensrf-go/opensrf/router"
	"github.com/opensrf-go/opensrf/topology"
)

var (
	configPath string
	hostname   string
	forceLocal bool
	watchDoms  []string
)

var rootCmd = &cobra.Command{
	Use:   "router",
	Short: "Forward REQUEST envelopes between a domain's registered services",
	RunE:  runRouter,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "opensrf.yml", "path to the bus configuration file")
	rootCmd.Flags().StringVarP(&hostname, "hostname", "h", "", "override the local hostname used to pick a domain")
	rootCmd.Flags().BoolVarP(&forceLocal, "local", "l", false, "force the localhost domain regardless of hostname")
	// -d is accepted for CLI-surface compatibility with buswatch, which this
	// binary does not implement; it is parsed and otherwise ignored here.
	rootCmd.Flags().StringArrayVarP(&watchDoms, "domain", "d", nil, "(buswatch only; ignored by this binary)")
}

func runRouter(cmd *cobra.Command, args []string) error {
	log, err := obslog.New(zapcore.InfoLevel)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer log.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	domainName := resolveDomain(cfg, hostname, forceLocal)
	dom, ok := cfg.Domain(domainName)
	if !ok {
		return fmt.Errorf("domain %q not present in %s", domainName, configPath)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	conn, err := bus.Dial(ctx, domainName, dom.Bus, nil)
	if err != nil {
		return fmt.Errorf("connecting to domain %s: %w", domainName, err)
	}
	defer conn.Close()

	var topo *topology.DomainRegistry
	if cfg.Topology != nil && len(cfg.Topology.Endpoints) > 0 {
		topo, err = topology.Dial(cfg.Topology.Endpoints, 5*time.Second)
		if err != nil {
			return fmt.Errorf("connecting to topology store: %w", err)
		}
		defer topo.Close()
	}

	r := router.New(cfg, domainName, conn, nil, log, topo)
	log.Info("router starting", obslog.Domain(domainName))
	if err := r.Run(ctx); err != nil {
		return fmt.Errorf("router stopped: %w", err)
	}
	log.Info("router shut down cleanly", obslog.Domain(domainName))
	return nil
}

// resolveDomain picks which configured domain this process routes for: an
// explicit hostname match, "localhost" when forced, or the first domain in
// the file as a last resort.
func resolveDomain(cfg *config.Config, hostname string, forceLocal bool) string {
	if forceLocal {
		return "localhost"
	}
	if hostname != "" {
		if _, ok := cfg.Domain(hostname); ok {
			return hostname
		}
	}
	if len(cfg.Domains) > 0 {
		return cfg.Domains[0].Name
	}
	return "localhost"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
