package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	graphx "github.com/orthotrace/opsagent/agent/graph"
	orchestratorx "github.com/orthotrace/opsagent/agent/orchestrator"
	plannerx "github.com/orthotrace/opsagent/agent/planner"
	toolx "github.com/orthotrace/opsagent/agent/tool"
	configx "github.com/orthotrace/opsagent/pkg/config"
	_ "github.com/orthotrace/opsagent/pkg/logger/autoload"
	openrouterx "github.com/orthotrace/opsagent/pkg/openrouter"
	serverx "github.com/orthotrace/opsagent/server"
	storex "github.com/orthotrace/opsagent/store"
)

type AppConfig struct {
	DatabaseDSN string `envconfig:"DATABASE_DSN" split_words:"true"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appCfg := configx.MustNew[AppConfig]("")

	var (
		st     storex.Store
		ledger storex.AuditLedger
	)
	if appCfg.DatabaseDSN != "" {
		pg, err := storex.NewPostgres(appCfg.DatabaseDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("connect postgres")
		}
		if err := pg.Init(ctx); err != nil {
			log.Fatal().Err(err).Msg("init schema")
		}
		st = pg
		ledger = storex.NewPostgresLedger(pg.DB())
	} else {
		log.Warn().Msg("DATABASE_DSN not set; using in-memory store (dev mode, data is not persisted)")
		st = storex.NewMemory()
		ledger = storex.NewMemoryLedger()
	}

	openRouterCfg := configx.MustNew[openrouterx.Config]("OPENROUTER")
	client := openrouterx.NewClient(*openRouterCfg)
	if client == nil {
		log.Fatal().Msg("failed to initialize openrouter client")
	}

	pl, err := plannerx.New(client, *openRouterCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("create planner adapter")
	}

	runtime, err := toolx.NewRuntime(st, ledger)
	if err != nil {
		log.Fatal().Err(err).Msg("create tool runtime")
	}

	engine, err := graphx.New(pl, runtime)
	if err != nil {
		log.Fatal().Err(err).Msg("create execution graph")
	}

	orch, err := orchestratorx.New(engine)
	if err != nil {
		log.Fatal().Err(err).Msg("create orchestrator")
	}

	srvCfg := configx.MustNew[serverx.Config]("SERVER")
	srv, err := serverx.New(orch, *srvCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("create server")
	}

	if err := srv.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
