package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/websoft9/sshrelay/internal/admission"
	"github.com/websoft9/sshrelay/internal/audit"
	"github.com/websoft9/sshrelay/internal/authn"
	"github.com/websoft9/sshrelay/internal/config"
	"github.com/websoft9/sshrelay/internal/relay"
	"github.com/websoft9/sshrelay/internal/sshdial"
	"github.com/websoft9/sshrelay/internal/supervisor"
	"github.com/websoft9/sshrelay/internal/target"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		port    = pflag.Int("port", 0, "Listen port, overrides PORT")
		dataDir = pflag.String("data-dir", "", "Target store directory, overrides DATA_DIR")
	)
	pflag.Parse()

	cfg := config.Load()
	if *port != 0 {
		cfg.Port = *port
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	logger := config.NewLogger("sshrelayd")
	relayLogger := config.NewLogger("relay")
	supervisorLogger := config.NewLogger("supervisor")
	auditLogger := config.NewLogger("audit")

	dialTimeout := time.Duration(cfg.DialTimeoutMS) * time.Millisecond

	r := &relay.Relay{
		Targets:   target.New(cfg.DataDir, relayLogger),
		Verifier:  authn.New(cfg.UseAuth, cfg.JWTSecret),
		Admission: admission.New(cfg.AllowedSSHHosts),
		Dialer:    sshdial.New(cfg.KnownHostsPath, dialTimeout),
		Audit:     audit.New(auditLogger),
		Logger:    relayLogger,
	}

	srv := &supervisor.Server{
		ListenAddr: fmt.Sprintf(":%d", cfg.Port),
		Relay:      r,
		Logger:     supervisorLogger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Printf("starting, port=%d data-dir=%s use-auth=%t", cfg.Port, cfg.DataDir, cfg.UseAuth)
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("sshrelayd: %w", err)
	}
	logger.Printf("stopped")
	return nil
}
