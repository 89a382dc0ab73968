// Command camannex supervises the cooler and vacuum annexes of a camera
// unit and relays their telemetry to the central server.
//
//	camannex -c /etc/camannex/camannex.yaml
//	camannex -d -c camannex.yaml   # write a default configuration
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gwac/camannex/annexctl"
	"github.com/gwac/camannex/config"
	"github.com/gwac/camannex/controller"
	"github.com/gwac/camannex/database"
	"github.com/gwac/camannex/logger"
	"github.com/gwac/camannex/statusapi"
	"github.com/gwac/camannex/transport/serial"
	"github.com/gwac/camannex/transport/tcp"
)

func main() {
	cfgPath := flag.String("c", "", "configuration file")
	writeDefault := flag.Bool("d", false, "write a default configuration file and exit")
	flag.Parse()

	if *writeDefault {
		path := *cfgPath
		if path == "" {
			path = "camannex.yaml"
		}
		if err := config.WriteDefault(path); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("default configuration written to", path)
		return
	}

	if err := run(*cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	log, logCloser, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	logger.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []annexctl.Option{
		annexctl.WithLogger(log),
		annexctl.WithTransportFactory(serialFactory(log)),
	}

	if cfg.Database.Enable {
		db, err := openDatabase(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		defer db.Close()
		opts = append(opts, annexctl.WithDatabase(db))
	}

	var ctl *annexctl.Control
	if cfg.Server.Enable {
		client, err := tcp.NewClient(
			tcp.WithLogger(log.With("component", "network")),
			tcp.WithCloseHandler(func() { ctl.NetworkClosed() }),
		)
		if err != nil {
			return err
		}
		opts = append(opts, annexctl.WithSession(client))
	}

	ctl, err = annexctl.New(cfg, opts...)
	if err != nil {
		return err
	}
	if err := ctl.Start(ctx); err != nil {
		return err
	}
	defer ctl.Stop()

	var status *statusapi.Server
	if cfg.Status.Enable {
		status = statusapi.New(ctl, log)
		if err := status.Start(cfg.Status.Addr); err != nil {
			return err
		}
	}

	log.Info("camannex running", "group_id", cfg.GroupID, "cooler", len(cfg.Cooler), "vacuum", len(cfg.Vacuum))
	<-ctx.Done()
	log.Info("shutdown signal received")

	if status != nil {
		if err := status.Shutdown(context.Background()); err != nil {
			log.Warn("failed to shut down status server", "error", err)
		}
	}

	return nil
}

func serialFactory(log logger.Logger) annexctl.TransportFactory {
	return func(kind string, a config.Annex) (controller.Transport, error) {
		return serial.NewPort(
			serial.WithFraming(a.DataBits, a.Parity, a.StopBits),
			serial.WithLogger(log.With("family", kind, "port", a.Port)),
		)
	}
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (*database.Postgres, error) {
	db, err := database.Open(ctx, cfg.DSN, log)
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := database.Migrate(db.DB(), log); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}
