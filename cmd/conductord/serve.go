package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ashkan-rafiee/conductor/config"
	"github.com/ashkan-rafiee/conductor/internal/catalog"
	"github.com/ashkan-rafiee/conductor/internal/gateway"
	"github.com/ashkan-rafiee/conductor/internal/orchestrator"
	"github.com/ashkan-rafiee/conductor/internal/server"
	"github.com/ashkan-rafiee/conductor/internal/store"
	"github.com/ashkan-rafiee/conductor/internal/telemetry"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			logger := log.New(log.Writer(), "[CONDUCTORD] ", log.LstdFlags)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			tele := telemetry.New(cfg.Telemetry, prometheus.DefaultRegisterer)
			defer tele.Shutdown()

			cat, err := buildCatalog(cfg)
			if err != nil {
				return err
			}

			limits := gateway.NewRateLimitStore(gateway.RealClock(), cfg.Gateway.MinRequestSpacing)
			gw := gateway.New(cfg.Gateway, cfg.LLM.APIKey, limits, gateway.RealClock())

			st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer st.Close()

			orch := orchestrator.New(cfg, cat, gw, tele.Cost, tele, tele)

			logger.Printf("serving on %s", cfg.Server.Address)
			return server.Run(ctx, cfg, server.Deps{
				Runner:    orch,
				AuthStore: st,
				RunStore:  st,
				Metrics:   tele,
			})
		},
	}
	serve.Flags().StringVarP(&cfgPath, "config", "c", "", "config file directory (default is .)")
	return serve
}

// buildCatalog prefers the redis-backed catalog and falls back to static
// config entries for dev setups.
func buildCatalog(cfg *config.Config) (catalog.Catalog, error) {
	var source catalog.Source
	if cfg.Catalog.Redis.Host != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Catalog.Redis.Host + ":" + cfg.Catalog.Redis.Port,
			Password: cfg.Catalog.Redis.Password,
			DB:       cfg.Catalog.Redis.DB,
		})
		source = catalog.NewRedisSource(client, cfg.Catalog.RedisKey)
	} else if len(cfg.Catalog.Static) > 0 {
		agents := make([]catalog.AgentDescriptor, 0, len(cfg.Catalog.Static))
		for _, s := range cfg.Catalog.Static {
			fields := make([]catalog.ConfigField, 0, len(s.Fields))
			for _, f := range s.Fields {
				fields = append(fields, catalog.ConfigField{
					Name:        f.Name,
					Type:        f.Type,
					Description: f.Description,
					Target:      f.Target,
					Options:     f.Options,
				})
			}
			agents = append(agents, catalog.AgentDescriptor{
				ID:           s.ID,
				Name:         s.Name,
				Description:  s.Description,
				Kind:         s.Kind,
				Endpoint:     s.Endpoint,
				ConfigFields: fields,
			})
		}
		source = catalog.NewStaticSource(agents)
	} else {
		return nil, fmt.Errorf("no capability catalog configured (catalog.redis.host or catalog.static)")
	}
	return catalog.NewCachedCatalog(source, cfg.Catalog.CacheTTL), nil
}
