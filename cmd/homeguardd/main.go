package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"homeguard/internal/blacklist"
	"homeguard/internal/blockpage"
	"homeguard/internal/categories"
	"homeguard/internal/certs"
	"homeguard/internal/config"
	"homeguard/internal/daemon"
	"homeguard/internal/engine"
	"homeguard/internal/firewall"
	"homeguard/internal/guard"
	"homeguard/internal/hosts"
	"homeguard/internal/logger"
	"homeguard/internal/store"
)

func main() {
	var (
		cleanup = flag.Bool("cleanup", false, "Remove hosts entries and firewall chains, then exit")
	)
	flag.Parse()

	cfg := config.Init()
	_ = logger.Init(cfg.LogPath)

	if os.Geteuid() != 0 {
		fmt.Println("homeguardd needs root to manage the hosts file and iptables. Please run with sudo.")
		os.Exit(1)
	}

	run := firewall.ExecRunner(cfg.CommandTimeout)
	enforcer := firewall.NewEnforcer(run, cfg.ChainName)
	redirector := firewall.NewRedirector(run, cfg.RedirectChain, cfg.BlockHTTPPort, cfg.BlockTLSPort)

	hostsMgr, err := hosts.NewManager(cfg.HostsPath, cfg.BackupDir, cfg.BackupKeep)
	if err != nil {
		logger.Errorf("hosts manager: %v", err)
		os.Exit(1)
	}

	if *cleanup {
		runCleanup(hostsMgr, enforcer, redirector)
		return
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Errorf("open rule store: %v", err)
		os.Exit(1)
	}

	updater := blacklist.NewUpdater(st, cfg.BlacklistURL, cfg.MaxRetries, cfg.RetryDelay)
	g := guard.New(st, hostsMgr, updater)
	if err := g.Bootstrap(); err != nil {
		logger.Errorf("bootstrap categories: %v", err)
		os.Exit(1)
	}
	if err := g.ApplyHosts(); err != nil {
		logger.Errorf("apply hosts on startup: %v", err)
		os.Exit(1)
	}

	if err := enforcer.EnsureChain(); err != nil {
		logger.Errorf("firewall chain: %v", err)
		os.Exit(1)
	}
	if err := redirector.Enable(); err != nil {
		logger.Errorf("port redirection: %v", err)
		os.Exit(1)
	}

	gen, err := certs.NewGenerator(cfg.CACertPath, cfg.CAKeyPath, cfg.CertDir)
	if err != nil {
		logger.Errorf("certificate generator: %v", err)
		os.Exit(1)
	}
	if n, err := gen.Sweep(time.Duration(cfg.CertTTLDays) * 24 * time.Hour); err == nil && n > 0 {
		logger.Infof("swept %d expired domain certificates", n)
	}

	eng := engine.New(st, engine.LogReporter{}, categories.Domains)

	srv := blockpage.NewServer(eng, gen, cfg.AdminURL, cfg.BlockHTTPPort, cfg.BlockTLSPort)
	if err := srv.Start(); err != nil {
		logger.Errorf("block page server: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	watcher := hosts.NewWatcher(hostsMgr, g.BlockedDomains)
	go func() {
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Errorf("hosts watcher: %v", err)
		}
	}()

	d := daemon.New(eng, enforcer, cfg.PollInterval)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := d.Run(ctx); err != nil {
			logger.Errorf("enforcement loop: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received, exiting...")

	cancel()
	<-loopDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("block page shutdown: %v", err)
	}
	if err := redirector.Disable(); err != nil {
		logger.Errorf("disable port redirection: %v", err)
	}
	logger.Info("homeguardd stopped")
}

// runCleanup restores normal networking: managed hosts section removed,
// chains flushed and deleted. The rule store is left untouched.
func runCleanup(hostsMgr *hosts.Manager, enforcer *firewall.Enforcer, redirector *firewall.Redirector) {
	logger.Info("cleaning up enforcement state")
	if err := hostsMgr.Clear(); err != nil {
		logger.Errorf("clear hosts entries: %v", err)
	}
	if err := enforcer.Cleanup(); err != nil {
		logger.Errorf("remove firewall chain: %v", err)
	}
	if err := redirector.Cleanup(); err != nil {
		logger.Errorf("remove redirect chain: %v", err)
	}
	logger.Info("cleanup complete")
}
