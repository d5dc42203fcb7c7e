package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tableside/internal/billing"
	"tableside/internal/capacity"
	"tableside/internal/common/httpx"
	"tableside/internal/common/logger"
	"tableside/internal/config"
	"tableside/internal/connections/database"
	"tableside/internal/connections/rabbitmq"
	"tableside/internal/events"
	"tableside/internal/handlers"
	"tableside/internal/ledger"
	"tableside/internal/session"
)

func main() {
	mode := flag.String("mode", "", "service to run: api | board-gateway | ticket-relay")
	configPath := flag.String("config", "config.yaml", "path to config file")
	port := flag.Int("port", 0, "override the configured HTTP port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.HTTP.Port = *port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "api":
		err = runAPI(ctx, cfg)
	case "board-gateway":
		err = runBoardGateway(ctx, cfg)
	case "ticket-relay":
		err = runTicketRelay(ctx, cfg)
	default:
		fmt.Fprintln(os.Stderr, "usage: tableside --mode=api|board-gateway|ticket-relay")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", *mode, err)
		os.Exit(1)
	}
}

func runAPI(ctx context.Context, cfg *config.Config) error {
	lg := logger.New("tableside-api")

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	mq, err := rabbitmq.Dial(cfg.RabbitMQ)
	if err != nil {
		return err
	}
	defer mq.Close()
	if err := mq.DeclareTopology(); err != nil {
		return err
	}

	publisher := events.NewPublisher(mq)

	ledgerRepo := ledger.NewRepository(db)
	bills := billing.NewService(ledgerRepo)

	sessions := session.NewService(session.NewRepository(db), bills, publisher, lg)

	capCtl := capacity.NewController(
		capacity.NewSettingsRepository(db),
		capacity.Defaults{
			MaxActiveOrders:    cfg.Capacity.MaxActiveOrders,
			DefaultPrepMinutes: cfg.Capacity.DefaultPrepMinutes,
		},
		cfg.Capacity.CacheTTL(),
		lg,
	)

	orders := ledger.NewService(ledgerRepo, sessions, capCtl, publisher, lg)

	tokens := events.NewTokenManager(cfg.Boards.TTL())
	hub := events.NewHub(lg)

	h := handlers.New(sessions, orders, bills, capCtl, tokens, hub, lg)
	srv := httpx.New(fmt.Sprintf(":%d", cfg.HTTP.Port), h.Router())

	// The API serves its own websocket boards from the in-process hub; the
	// standalone board-gateway mode exists for horizontal scale-out.
	gw := events.NewGateway(mq, hub, lg)
	go func() {
		if err := gw.Run(ctx); err != nil {
			lg.Error("gateway_stopped", err, nil)
		}
	}()

	lg.Info("api_listening", map[string]any{"port": cfg.HTTP.Port})
	return srv.Run(ctx)
}

func runBoardGateway(ctx context.Context, cfg *config.Config) error {
	lg := logger.New("tableside-board-gateway")

	mq, err := rabbitmq.Dial(cfg.RabbitMQ)
	if err != nil {
		return err
	}
	defer mq.Close()
	if err := mq.DeclareTopology(); err != nil {
		return err
	}

	hub := events.NewHub(lg)
	tokens := events.NewTokenManager(cfg.Boards.TTL())

	h := handlers.NewBoardOnly(tokens, hub, lg)
	srv := httpx.New(fmt.Sprintf(":%d", cfg.HTTP.Port), h.BoardRouter())

	gw := events.NewGateway(mq, hub, lg)
	go func() {
		if err := gw.Run(ctx); err != nil {
			lg.Error("gateway_stopped", err, nil)
		}
	}()

	lg.Info("board_gateway_listening", map[string]any{"port": cfg.HTTP.Port})
	return srv.Run(ctx)
}

func runTicketRelay(ctx context.Context, cfg *config.Config) error {
	lg := logger.New("tableside-ticket-relay")

	mq, err := rabbitmq.Dial(cfg.RabbitMQ)
	if err != nil {
		return err
	}
	defer mq.Close()
	if err := mq.DeclareTopology(); err != nil {
		return err
	}

	return events.NewTicketRelay(mq, lg).Run(ctx)
}
