package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tunnelgw/tunnelgw/internal/config"
	"github.com/tunnelgw/tunnelgw/internal/health"
	"github.com/tunnelgw/tunnelgw/internal/logging"
	"github.com/tunnelgw/tunnelgw/internal/logring"
	"github.com/tunnelgw/tunnelgw/internal/metrics"
	"github.com/tunnelgw/tunnelgw/internal/security"
	"github.com/tunnelgw/tunnelgw/internal/setup"
	"github.com/tunnelgw/tunnelgw/internal/tunnel"

	"golang.org/x/time/rate"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tunnelgw",
		Short: "WebSocket-framed tunneling gateway multiplexing virtual TCP/UDP over one WebSocket",
	}

	var configPath string
	var verbose bool

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the tunnel gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(configPath, verbose)
		},
	}
	startCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	startCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version and build info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tunnelgw %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config without starting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}
			fmt.Printf("Configuration is valid.\n")
			fmt.Printf("  Listen:   %s (path %s)\n", cfg.ListenAddress(), cfg.Bridge.WSPath)
			fmt.Printf("  Health:   %s\n", cfg.Health.ListenAddress)
			fmt.Printf("  CIDRs:    %v\n", cfg.Security.CIDRs)
			fmt.Printf("  TLS:      %v\n", cfg.Bridge.UseTLS)
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check health (exit 0 if healthy, 1 if not)",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			return checkHealth(url)
		},
	}
	healthCmd.Flags().String("url", "http://127.0.0.1:8081/health", "Health endpoint URL")

	var setupConfigPath string
	setupCmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setup.RunWizard(os.Stdin, os.Stdout, setup.WizardOptions{
				ConfigPath: setupConfigPath,
			})
		},
	}
	setupCmd.Flags().StringVar(&setupConfigPath, "config-path", "", "Override config file path (default: /etc/tunnelgw/config.yaml)")

	systemdCmd := &cobra.Command{
		Use:   "systemd",
		Short: "Generate systemd service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			printFlag, _ := cmd.Flags().GetBool("print")
			if printFlag {
				printSystemdUnit()
			}
			return nil
		},
	}
	systemdCmd.Flags().Bool("print", false, "Print systemd unit to stdout")

	rootCmd.AddCommand(startCmd, versionCmd, validateCmd, healthCmd, setupCmd, systemdCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGateway(configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	ring := logring.NewRingBuffer(cfg.Debug.BufferSize)
	baseHandler, lj := logging.SetupHandler(
		cfg.Logging.Level,
		cfg.Logging.Format,
		cfg.Logging.File,
		cfg.Logging.MaxSizeMB,
		cfg.Logging.MaxBackups,
		cfg.Logging.MaxAgeDays,
		cfg.Logging.Compress,
	)
	slog.SetDefault(slog.New(logring.NewTeeHandler(baseHandler, ring)))
	if lj != nil {
		defer lj.Close()
	}

	slog.Info("starting tunnelgw",
		"version", Version,
		"listen", cfg.ListenAddress(),
		"ws_path", cfg.Bridge.WSPath,
		"health", cfg.Health.ListenAddress,
	)

	stats := tunnel.NewStats()

	var rl *security.RateLimiter
	if cfg.Security.RateLimit.Enabled {
		r := rate.Limit(float64(cfg.Security.RateLimit.ConnectionsPerMinute) / 60.0)
		rl = security.NewRateLimiter(r, cfg.Security.RateLimit.ConnectionsPerMinute)
		defer rl.Stop()
		slog.Info("rate limiting enabled", "connections_per_minute", cfg.Security.RateLimit.ConnectionsPerMinute)
	}

	var m *metrics.Metrics
	if cfg.Health.Enabled {
		m = metrics.New()
		slog.Info("prometheus metrics enabled")
	}

	deps := tunnel.Deps{
		DialTimeout:    cfg.Bridge.DialTimeout,
		WriteTimeout:   cfg.Bridge.WriteTimeout,
		UDPIdleTimeout: cfg.Bridge.UDPIdleTimeout,
		MaxMessageSize: cfg.Bridge.MaxMessageSize,
		Metrics:        m,
		Stats:          stats,
		Logger:         slog.Default(),
	}

	acl := security.NewACL(cfg.Security.CIDRs)
	listener := tunnel.NewListener(acl, cfg.Security.Token, cfg.Bridge.WSPath, deps, m, slog.Default())

	mux := http.NewServeMux()
	mux.Handle("/", landingPage())
	mux.Handle(cfg.Bridge.WSPath, rateLimited(rl, listener))

	proxyListener, err := net.Listen("tcp", cfg.ListenAddress())
	if err != nil {
		return fmt.Errorf("failed to bind listener on %s: %w", cfg.ListenAddress(), err)
	}
	if cfg.Bridge.UseTLS {
		cert, err := tls.LoadX509KeyPair(cfg.Bridge.CertFile, cfg.Bridge.KeyFile)
		if err != nil {
			proxyListener.Close()
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		proxyListener = tls.NewListener(proxyListener, &tls.Config{Certificates: []tls.Certificate{cert}})
	}

	proxyServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Health server runs on its own loopback listener, keeping
	// operator-facing endpoints off the internet-facing tunnel port.
	var healthServer *http.Server
	var healthListener net.Listener
	if cfg.Health.Enabled {
		healthHandler := health.NewHandler(stats, Version, cfg.Health.Detailed)
		healthMux := http.NewServeMux()
		healthMux.Handle(cfg.Health.Endpoint, healthHandler)
		if m != nil {
			healthMux.Handle("/metrics", promhttp.Handler())
		}
		if cfg.Debug.Enabled {
			healthMux.Handle("/debug/events", logring.NewHandler(ring))
		}

		healthListener, err = net.Listen("tcp", cfg.Health.ListenAddress)
		if err != nil {
			proxyListener.Close()
			return fmt.Errorf("failed to bind health listener on %s: %w", cfg.Health.ListenAddress, err)
		}
		healthServer = &http.Server{
			Handler:           healthMux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
		}
	}

	if healthServer != nil {
		go func() {
			slog.Info("health endpoint listening", "address", cfg.Health.ListenAddress)
			if err := healthServer.Serve(healthListener); err != nil && err != http.ErrServerClosed {
				slog.Error("health server error", "error", err)
			}
		}()
	}

	go func() {
		slog.Info("tunnel listening", "address", cfg.ListenAddress(), "path", cfg.Bridge.WSPath)
		if err := proxyServer.Serve(proxyListener); err != nil && err != http.ErrServerClosed {
			slog.Error("tunnel server error", "error", err)
		}
	}()

	sent, notifyErr := daemon.SdNotify(false, daemon.SdNotifyReady)
	if notifyErr != nil {
		slog.Error("sd_notify READY failed", "error", notifyErr)
	} else if sent {
		slog.Info("sd_notify READY sent")
	}

	watchdogCtx, watchdogCancel := context.WithCancel(context.Background())
	defer watchdogCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if sent, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					slog.Warn("failed to notify watchdog", "error", err)
				} else if sent {
					slog.Debug("watchdog keepalive sent")
				}
			case <-watchdogCtx.Done():
				return
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for sig := range sigChan {
		switch sig {
		case syscall.SIGHUP:
			slog.Info("received SIGHUP, reloading config")
			newCfg, err := config.Load(configPath)
			if err != nil {
				slog.Error("config reload failed", "error", err)
				continue
			}
			for _, w := range config.IsReloadSafe(cfg, newCfg) {
				slog.Warn("config reload warning", "warning", w)
			}
			cfg.ReloadableFields(newCfg)
			if cfg.Security.RateLimit.Enabled && rl != nil {
				r := rate.Limit(float64(cfg.Security.RateLimit.ConnectionsPerMinute) / 60.0)
				rl.UpdateRate(r, cfg.Security.RateLimit.ConnectionsPerMinute)
			}
			listener.ACL = security.NewACL(cfg.Security.CIDRs)
			listener.Token = cfg.Security.Token
			slog.Info("config reloaded successfully")

		case syscall.SIGTERM, syscall.SIGINT:
			slog.Info("received shutdown signal, draining tunnels",
				"signal", sig.String(), "drain_timeout", cfg.Bridge.DrainTimeout.String())

			watchdogCancel()
			daemon.SdNotify(false, daemon.SdNotifyStopping)

			proxyServer.Close()
			listener.StartDrain()

			drainDeadline := time.After(cfg.Bridge.DrainTimeout)
			drainTick := time.NewTicker(100 * time.Millisecond)
		drainLoop:
			for {
				select {
				case <-drainDeadline:
					if remaining := stats.ActiveTunnels(); remaining > 0 {
						slog.Warn("drain timeout reached, force-closing remaining tunnels", "remaining", remaining)
					}
					break drainLoop
				case <-drainTick.C:
					if stats.ActiveTunnels() == 0 {
						slog.Info("all tunnels drained")
						break drainLoop
					}
				}
			}
			drainTick.Stop()

			if healthServer != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				healthServer.Shutdown(shutdownCtx)
				shutdownCancel()
			}

			slog.Info("shutdown complete")
			return nil
		}
	}

	return nil
}

// rateLimited wraps next with the optional per-IP connection-admission
// rate limiter, rejecting before the admission gate even runs.
func rateLimited(rl *security.RateLimiter, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := security.ExtractClientIP(r.RemoteAddr)
		if !rl.Allow(ip) {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// landingPage is a trivial placeholder for non-upgrade HTTP requests;
// tunnelgw's core only needs a hook here, not a real site.
func landingPage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "tunnelgw is running.")
	})
}

func checkHealth(healthURL string) error {
	client := &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(healthURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Println("healthy")
		return nil
	}
	fmt.Fprintf(os.Stderr, "unhealthy (status: %d)\n", resp.StatusCode)
	os.Exit(1)
	return nil
}

func printSystemdUnit() {
	fmt.Print(`[Unit]
Description=tunnelgw - WebSocket tunneling gateway
After=network-online.target
Wants=network-online.target

[Service]
Type=notify
User=tunnelgw
Group=tunnelgw
ExecStartPre=/usr/local/bin/tunnelgw validate --config /etc/tunnelgw/config.yaml
ExecStart=/usr/local/bin/tunnelgw start --config /etc/tunnelgw/config.yaml
ExecReload=/bin/kill -HUP $MAINPID
Restart=always
RestartPreventExitStatus=0
RestartSec=5s
WatchdogSec=30s
TimeoutStartSec=30s

ProtectSystem=strict
ProtectHome=true
NoNewPrivileges=true
PrivateTmp=true
PrivateDevices=true
ProtectKernelTunables=true
ProtectKernelModules=true
ProtectControlGroups=true
ProtectClock=true
RestrictNamespaces=true
RestrictRealtime=true
RestrictSUIDSGID=true
LockPersonality=true
SystemCallArchitectures=native
ReadOnlyPaths=/etc/tunnelgw
LogsDirectory=tunnelgw
StateDirectory=tunnelgw
LimitNOFILE=65535

StandardOutput=journal
StandardError=journal
SyslogIdentifier=tunnelgw

[Install]
WantedBy=multi-user.target
`)
}
