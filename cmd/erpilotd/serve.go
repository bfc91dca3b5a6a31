// Copyright 2026 ERPilot, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/erpilot/erpilot/internal/log"
	"github.com/erpilot/erpilot/internal/pgxdriver"
	"github.com/erpilot/erpilot/pkg/agents"
	"github.com/erpilot/erpilot/pkg/billing"
	"github.com/erpilot/erpilot/pkg/coordinator"
	"github.com/erpilot/erpilot/pkg/core"
	"github.com/erpilot/erpilot/pkg/erp"
	"github.com/erpilot/erpilot/pkg/history"
	"github.com/erpilot/erpilot/pkg/llm"
	"github.com/erpilot/erpilot/pkg/llm/factory"
	"github.com/erpilot/erpilot/pkg/mcp/connector"
	"github.com/erpilot/erpilot/pkg/memory"
	"github.com/erpilot/erpilot/pkg/observability"
	"github.com/erpilot/erpilot/pkg/retrieval"
	"github.com/erpilot/erpilot/pkg/store"
	"github.com/erpilot/erpilot/pkg/tools"
	"github.com/erpilot/erpilot/pkg/tools/builtin"
	"github.com/erpilot/erpilot/pkg/tools/dispatch"
	"github.com/erpilot/erpilot/pkg/turn"
	"github.com/erpilot/erpilot/pkg/vault"
	"github.com/erpilot/erpilot/pkg/vernacular"
	"github.com/erpilot/erpilot/pkg/workers"
)

// app holds the wired orchestration core.
type app struct {
	pool      *pgxpool.Pool
	stores    *store.Stores
	provider  llm.Provider
	runner    *turn.Runner
	scheduler *workers.Scheduler
	mcp       *connector.Registry
	logger    *zap.Logger
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration daemon with background workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, config)
		if err != nil {
			return err
		}
		defer a.close()

		if config.Workers.Enabled {
			if err := a.registerWorkers(config); err != nil {
				return err
			}
			a.scheduler.Start()
		}

		a.logger.Info("erpilotd running",
			zap.String("llm_provider", config.LLM.Provider),
			zap.Bool("workers", config.Workers.Enabled))

		<-ctx.Done()
		a.logger.Info("shutting down")

		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return a.scheduler.Stop(stopCtx)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and row-level-security policies",
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, err := pgxdriver.NewPool(cmd.Context(), poolConfig(config.Database), nil)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := store.Migrate(cmd.Context(), pool); err != nil {
			return err
		}
		fmt.Println("schema applied")
		return nil
	},
}

var tenantCmd = &cobra.Command{
	Use:   "tenant <id>",
	Short: "Provision a tenant with a wallet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		plan, _ := cmd.Flags().GetString("plan")
		credits, _ := cmd.Flags().GetInt64("credits")

		a, err := buildApp(cmd.Context(), config)
		if err != nil {
			return err
		}
		defer a.close()

		tenantID := args[0]
		if err := a.stores.Tenants.Create(cmd.Context(), tenantID, name, plan); err != nil {
			return err
		}

		if credits > 0 {
			err := a.runAs(cmd.Context(), tenantID, func(ctx context.Context) error {
				now := time.Now().UTC()
				return a.stores.Wallets.Provision(ctx, billing.Wallet{
					TenantID:             tenantID,
					PeriodStart:          now,
					PeriodEnd:            now.AddDate(0, 1, 0),
					BaseCreditsRemaining: credits,
				})
			})
			if err != nil {
				return err
			}
		}

		fmt.Printf("tenant %s provisioned on plan %s\n", tenantID, plan)
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Run one chat turn as a tenant (operator debugging surface)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, _ := cmd.Flags().GetString("tenant")
		sessionID, _ := cmd.Flags().GetString("session")
		if tenantID == "" {
			return fmt.Errorf("--tenant is required")
		}

		a, err := buildApp(cmd.Context(), config)
		if err != nil {
			return err
		}
		defer a.close()

		var output *turn.Output
		err = a.runAs(cmd.Context(), tenantID, func(ctx context.Context) error {
			if sessionID == "" {
				sessionID, err = a.stores.Sessions.CreateSession(ctx)
				if err != nil {
					return err
				}
			}
			output, err = a.runner.Run(ctx, turn.Input{
				SessionID: sessionID,
				Message:   args[0],
				Model:     config.LLM.Model,
			})
			return err
		})
		if err != nil {
			return err
		}

		fmt.Printf("session: %s\nintent: %s\ntokens: %d\n\n%s\n",
			sessionID, output.Intent, output.TokensUsed, output.Text)
		return nil
	},
}

func init() {
	tenantCmd.Flags().String("name", "", "tenant display name")
	tenantCmd.Flags().String("plan", "starter", "plan tier (starter, team, enterprise)")
	tenantCmd.Flags().Int64("credits", 0, "base credits for the first billing period")

	chatCmd.Flags().String("tenant", "", "tenant ID to run as")
	chatCmd.Flags().String("session", "", "existing session ID (empty starts a new session)")

	rootCmd.AddCommand(serveCmd, migrateCmd, tenantCmd, chatCmd)
}

// buildApp wires the orchestration core from config.
func buildApp(ctx context.Context, cfg *Config) (*app, error) {
	logger := log.Logger()
	tracer := observability.NewMemoryTracer()

	pool, err := pgxdriver.NewPool(ctx, poolConfig(cfg.Database), tracer)
	if err != nil {
		return nil, err
	}

	vaultKeys, err := cfg.Vault.IntKeys()
	if err != nil {
		pool.Close()
		return nil, err
	}
	v, err := vault.New(vaultKeys, cfg.Vault.Primary)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("building vault: %w", err)
	}

	stores := store.New(pool, v)

	provider, err := factory.New(factory.Config{
		Provider:          cfg.LLM.Provider,
		APIKey:            cfg.LLM.APIKey,
		Endpoint:          cfg.LLM.Endpoint,
		Timeout:           time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Burst:             cfg.LLM.Burst,
	}, tracer)
	if err != nil {
		pool.Close()
		return nil, err
	}

	mcpRegistry := connector.NewRegistry(stores.Connectors, logger)
	gateway := erp.NewGateway(mcpRegistry, stores.Connectors, logger)
	retriever := retrieval.NewRetriever(stores.Chunks, nil, logger)

	registry := tools.NewRegistry()
	registry.Register(builtin.NewSuiteQLTool(gateway, cfg.Tools.SuiteQLMaxRows))
	registry.Register(builtin.NewConnectivityTool(gateway))
	registry.Register(builtin.NewMetadataTool(gateway, stores.Users))
	registry.Register(builtin.NewRAGSearchTool(retriever, 0))
	if cfg.Tools.WorkspaceDir != "" {
		workspace := builtin.NewDirWorkspace(cfg.Tools.WorkspaceDir)
		registry.Register(builtin.NewListFilesTool(workspace))
		registry.Register(builtin.NewReadFileTool(workspace))
		registry.Register(builtin.NewSearchFilesTool(workspace))
		registry.Register(builtin.NewProposePatchTool(stores.Drafts))
	}

	dispatcher := dispatch.NewDispatcher(dispatch.Options{
		Registry: registry,
		Limiter:  dispatch.NewRateLimiter(cfg.Tools.RateLimits),
		Policies: stores.Policies,
		Remote:   mcpRegistry,
		Recorder: stores.Audit,
		Tracer:   tracer,
		Logger:   logger,
	})

	agentRunner := agents.NewRunner(provider, registry, dispatcher, cfg.LLM.Model, logger)
	coord := coordinator.NewCoordinator(agentRunner, provider, cfg.LLM.Model, logger)

	runner := turn.NewRunner(turn.Options{
		Store:        stores.Sessions,
		Coordinator:  coord,
		Resolver:     vernacular.NewResolver(provider, stores.Vernacular, cfg.LLM.FastModel, logger),
		Compactor:    history.NewCompactor(provider, cfg.LLM.FastModel, logger),
		Memory:       memory.NewUpdater(provider, stores.Vernacular, stores.Audit, cfg.LLM.FastModel, logger),
		Ledger:       billing.NewLedger(stores.Wallets, tracer, logger),
		Recorder:     stores.Audit,
		Tracer:       tracer,
		Logger:       logger,
		HistoryPairs: cfg.Turn.HistoryPairs,
		Budget:       time.Duration(cfg.Turn.BudgetSeconds) * time.Second,
	})

	return &app{
		pool:      pool,
		stores:    stores,
		provider:  provider,
		runner:    runner,
		scheduler: workers.NewScheduler(stores.Jobs, stores.Audit, logger),
		mcp:       mcpRegistry,
		logger:    logger,
	}, nil
}

// runAs executes fn with ctx bound to tenantID inside a tenant transaction.
func (a *app) runAs(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	ctx, err := core.BindTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	return pgxdriver.WithTenant(ctx, a.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx)
	})
}

func (a *app) registerWorkers(cfg *Config) error {
	if cfg.Workers.ReconcileCron != "" && cfg.Billing.MeterEndpoint != "" {
		meter := &httpMeter{
			endpoint: cfg.Billing.MeterEndpoint,
			apiKey:   cfg.Billing.MeterAPIKey,
			client:   &http.Client{Timeout: 15 * time.Second},
		}
		reconciler := billing.NewReconciler(a.stores.Wallets, meter, a.logger)
		if err := a.scheduler.Register(cfg.Workers.ReconcileCron, &workers.BillingReconciliation{Reconciler: reconciler}); err != nil {
			return err
		}
	}

	if cfg.Workers.RetentionCron != "" {
		retention := &workers.AuditRetention{
			Store:  a.stores.Audit,
			Days:   cfg.Workers.AuditRetentionDays,
			Logger: a.logger,
		}
		if err := a.scheduler.Register(cfg.Workers.RetentionCron, retention); err != nil {
			return err
		}
	}

	if cfg.Workers.DiscoveryCron != "" {
		discovery := &workers.MetadataDiscovery{
			Tenants:  a.stores.Tenants,
			Source:   erp.NewGateway(a.mcp, a.stores.Connectors, a.logger),
			Mappings: a.stores.Vernacular,
			RunAs:    a.runAs,
			Logger:   a.logger,
		}
		if err := a.scheduler.Register(cfg.Workers.DiscoveryCron, discovery); err != nil {
			return err
		}
	}

	if cfg.Workers.ImportCron != "" && cfg.Workers.DocumentDir != "" {
		importer := &workers.DocumentImport{
			TenantID: cfg.Workers.ImportTenant,
			Source:   builtin.NewDirWorkspace(cfg.Workers.DocumentDir),
			Chunks:   a.stores.Chunks,
			RunAs:    a.runAs,
			Logger:   a.logger,
		}
		if err := a.scheduler.Register(cfg.Workers.ImportCron, importer); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) close() {
	a.mcp.Close()
	a.pool.Close()
	_ = log.Sync()
}

func poolConfig(cfg DatabaseConfig) pgxdriver.Config {
	return pgxdriver.Config{
		DSN:      cfg.DSN,
		Host:     cfg.Host,
		Port:     cfg.Port,
		Database: cfg.Database,
		User:     cfg.User,
		Password: cfg.Password,
		SSLMode:  cfg.SSLMode,
		Schema:   cfg.Schema,
		MaxConns: cfg.MaxConns,
		MinConns: cfg.MinConns,
		Remote:   cfg.Remote,
	}
}

// httpMeter reports metered usage increments to an external billing system.
type httpMeter struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func (m *httpMeter) ReportUsage(ctx context.Context, subscriptionItemID string, delta int64) error {
	body, err := json.Marshal(map[string]interface{}{
		"subscription_item_id": subscriptionItemID,
		"quantity":             delta,
		"timestamp":            time.Now().Unix(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("meter returned %s", resp.Status)
	}
	return nil
}
