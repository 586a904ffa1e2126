package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chorus/internal/adapter/gateway"
	"chorus/internal/adapter/store"
	"chorus/internal/domain"
	"chorus/internal/infra/middleware"
	"chorus/internal/usecase/conversation"
	"chorus/internal/usecase/eventbus"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve conversations over the WebSocket gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Gateway.Addr = addr
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to gateway.addr)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewSQLiteStore(a.cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	var agents domain.AgentStore = db
	if a.cfg.Store.AgentsFile != "" {
		fs, err := store.LoadFileAgentStore(a.cfg.Store.AgentsFile)
		if err != nil {
			return err
		}
		agents = fs
		a.log.Info("serving agents from roster file", "path", a.cfg.Store.AgentsFile, "agents", len(fs.Agents()))
	}

	llms, err := initLLM(a.cfg, a.log)
	if err != nil {
		return err
	}

	bus := eventbus.New(a.log)
	defer bus.Close()

	orch := conversation.New(a.cfg.Conversation, a.cfg.Supervisor, llms.Factory, llms.Supervisor, a.log,
		conversation.WithEventBus(bus))

	auth := gateway.AuthFromConfig(a.cfg.Gateway.Auth)
	if a.cfg.Gateway.Auth.Type != "static" {
		a.log.Warn("gateway authentication disabled", "addr", a.cfg.Gateway.Addr)
	}

	srv := gateway.NewServer(auth, a.cfg.Gateway.Addr, a.log)
	srv.Use(middleware.SecurityHeaders)
	if rl := a.cfg.Gateway.RateLimit; rl.Enabled {
		srv.Use(middleware.NewClientLimiter(rl).Middleware)
		a.log.Info("gateway rate limit enabled", "rpm", rl.RequestsPerMinute, "burst", rl.Burst)
	}
	deps := gateway.HandlerDeps{
		Runner:        orch,
		Agents:        agents,
		Conversations: db,
		Bus:           bus,
		Runs:          gateway.NewRunTracker(),
		Providers:     llms.Factory.Configured(),
		Logger:        a.log,
	}
	gateway.RegisterDefaultHandlers(srv, deps)
	gateway.RegisterRESTHandlers(srv, deps)

	return srv.Start(ctx)
}
