// Command worker-server hosts one service's worker pool against a domain's
// bus, serving the methods registered in registerMethods.
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
	"github.com/opensrf-go/opensrf/codec"
	"github.com/opensrf-go/opensrf/config"
	"github.com/opensrf-go/opensrf/method"
	"github.com/opensrf-go/opensrf/middleware"
	"github.com/opensrf-go/opensrf/obslog"
	"github.com/opensrf-go/opensrf/worker"
)

var (
	configPath  string
	hostname    string
	forceLocal  bool
	watchDoms   []string
	serviceName string
)

var rootCmd = &cobra.Command{
	Use:   "worker-server",
	Short: "Run a service's worker pool against a bus domain",
	RunE:  runWorkerServer,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "opensrf.yml", "path to the bus configuration file")
	rootCmd.Flags().StringVarP(&hostname, "hostname", "h", "", "override the local hostname used to pick a domain")
	rootCmd.Flags().BoolVarP(&forceLocal, "local", "l", false, "force the localhost domain regardless of hostname")
	rootCmd.Flags().StringArrayVarP(&watchDoms, "domain", "d", nil, "(buswatch only; ignored by this binary)")
	rootCmd.Flags().StringVar(&serviceName, "service", "opensrf.rspublic", "name of the service this process hosts")
}

func runWorkerServer(cmd *cobra.Command, args []string) error {
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
	if _, ok := cfg.Domain(domainName); !ok {
		return fmt.Errorf("domain %q not present in %s", domainName, configPath)
	}

	svcConf, ok := cfg.Service(serviceName)
	if !ok {
		svcConf = config.Service{Name: serviceName, MinWorkers: 1, MaxWorkers: 4, Keepalive: 60}
	}

	reg, err := method.NewRegistry(registerMethods())
	if err != nil {
		return fmt.Errorf("registering methods: %w", err)
	}

	chain := middleware.Chain(
		middleware.LoggingMiddleware(log),
		middleware.TimeoutMiddleware(30*time.Second),
	)

	dial := func(ctx context.Context, domain string, conn config.BusConnection) (bus.Bus, error) {
		return bus.Dial(ctx, domain, conn, nil)
	}

	srv := worker.NewServer(cfg, serviceName, svcConf, reg, log, dial, chain)
	srv.Serializer = codec.ClassedSerializer{Class: "osrfObject"}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("worker server starting", obslog.Service(serviceName), obslog.Domain(domainName))
	if err := srv.Run(ctx, domainName); err != nil {
		return fmt.Errorf("worker server stopped: %w", err)
	}
	log.Info("worker server shut down cleanly", obslog.Service(serviceName))
	return nil
}

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
