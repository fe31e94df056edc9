package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"wifimon/internal/config"
	"wifimon/internal/dbus"
	"wifimon/internal/monitor"
	"wifimon/internal/netlink"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

var (
	configPath = flag.String("config", config.DefaultPath, "Path to the yaml config file")
	busType    = flag.String("bus", "", "D-Bus bus type: system, session or none (overrides config)")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	status     = flag.Bool("status", false, "Print the running daemon's status and exit")
	probeNow   = flag.Bool("probe", false, "Ask the running daemon to probe now and exit")
)

var logger = logrus.New()

func main() {
	flag.Parse()

	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load config")
	}
	if *busType != "" {
		cfg.DBusBus = *busType
	}

	switch {
	case *status:
		if err := printStatus(cfg.DBusBus); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	case *probeNow:
		if err := dbus.RequestProbe(cfg.DBusBus); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	logger.WithField("config", *configPath).Info("wifimon daemon starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mon := monitor.New(cfg, monitor.WithLogger(logger))

	if cfg.DBusBus != "none" {
		svc, err := dbus.NewService(cfg.DBusBus, mon.Status(), mon.Wake, logger)
		if err != nil {
			logger.WithError(err).Warn("D-Bus service not available")
		} else {
			defer svc.Close()
			logger.WithField("bus", cfg.DBusBus).Info("D-Bus service registered")
		}
	}

	mon.Start(ctx)

	if name := mon.Interface(); name != "" && mon.Running() {
		w, err := netlink.NewWatcher(name, mon.Wake, logger)
		if err != nil {
			logger.WithError(err).Warn("Netlink watcher failed")
		} else {
			defer w.Close()
			go w.Run()
			logger.WithField("iface", name).Info("Netlink watcher started")
		}

		go func() {
			if err := dbus.WatchResume(ctx, mon.Wake, logger); err != nil {
				logger.WithError(err).Warn("System resume watcher stopped")
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("wifimon daemon ready")
	<-sigChan
	logger.Info("Shutting down...")

	cancel()
	mon.Stop(monitor.DefaultStopTimeout)
}

func printStatus(busType string) error {
	if busType == "none" {
		return errors.New("status needs a D-Bus bus; pass -bus system or -bus session")
	}
	rs, err := dbus.QueryStatus(busType)
	if err != nil {
		return err
	}

	last := "never"
	if !rs.LastConnected.IsZero() {
		last = humanize.Time(rs.LastConnected)
	}
	ssid := rs.SSID
	if ssid == "" {
		ssid = "-"
	}
	fmt.Printf("state:          %s\n", rs.State)
	fmt.Printf("ssid:           %s\n", ssid)
	fmt.Printf("interface:      %s\n", rs.Interface)
	fmt.Printf("monitoring:     %v\n", rs.Monitoring)
	fmt.Printf("last connected: %s\n", last)
	return nil
}
