package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/forgecore/engine/internal/config"
	"github.com/forgecore/engine/internal/logging"
	"github.com/forgecore/engine/pkg/jobevents"
	"github.com/forgecore/engine/pkg/jobmanager"
	"github.com/forgecore/engine/pkg/jobstore"
	"github.com/forgecore/engine/pkg/llmrunner"
	"github.com/forgecore/engine/pkg/llmtypes"
	"github.com/forgecore/engine/pkg/memory"
	"github.com/forgecore/engine/pkg/retry"
	"github.com/forgecore/engine/pkg/router"
	"github.com/forgecore/engine/pkg/scaffold"
	"github.com/forgecore/engine/pkg/thinking"
	"github.com/forgecore/engine/pkg/validator"
	"github.com/forgecore/engine/pkg/workspace"
)

// ServeCmd starts the HTTP server, assembling every production collaborator
// (job store, event bus, memory store, model ensembles, retry controller,
// MCP registry) the way the teacher's ServerCmd/runServer wires its own
// orchestrator/agent/database collaborators together.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the generation orchestration engine's HTTP server: the job
orchestration surface, the MCP/JSON-RPC tool router, and the live progress
event stream.`,
	RunE: runServe,
}

func init() {
	ServeCmd.Flags().IntP("port", "p", 8080, "server port")
	ServeCmd.Flags().StringP("host", "H", "0.0.0.0", "server host")
	ServeCmd.Flags().StringSlice("cors-origins", []string{"*"}, "CORS allowed origins")
	_ = viper.BindPFlags(ServeCmd.Flags())
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logging.New(viper.GetString("log-file"), viper.GetString("log-level"), viper.GetString("log-format"), true)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := jobstore.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}
	defer store.Close()

	bus := jobevents.NewBus()

	memStore, err := buildMemoryStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build memory store: %w", err)
	}
	defer memStore.Close()

	thinkingEnsemble, err := buildThinkingEnsemble(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build thinking ensemble: %w", err)
	}

	validatorEnsemble, poolSize, err := buildValidationEnsemble(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build validation ensemble: %w", err)
	}

	resolveModel := func(ctx context.Context, tier config.LadderTier) (llmtypes.Model, error) {
		return llmrunner.New(ctx, llmrunner.Spec{Provider: llmrunner.Provider(tier.Provider), ModelID: tier.Model}, log)
	}

	controller := retry.New(cfg, thinkingEnsemble, validatorEnsemble, poolSize, resolveModel, workspace.New(), scaffold.NewLocalTemplateExecutor(), memStore, bus, log)
	manager := jobmanager.New(cfg, store, bus, controller, log)

	if n, err := manager.RecoverOnStartup(time.Now()); err != nil {
		log.Warnf("failed to recover interrupted jobs: %v", err)
	} else if n > 0 {
		log.Infof("marked %d interrupted job(s) failed after restart", n)
	}

	go runRetentionSweep(ctx, manager, log)

	rt := buildRouter(cfg, manager, memStore, log)
	srv := New(manager, rt, bus, log, viper.GetStringSlice("cors-origins"))

	addr := fmt.Sprintf("%s:%d", viper.GetString("host"), viper.GetInt("port"))
	return srv.Run(ctx, addr)
}

func buildMemoryStore(ctx context.Context, cfg *config.EngineConfig, log logging.ExtendedLogger) (memory.Store, error) {
	lru := memory.NewLRUStore(1000)
	qdrant, err := memory.NewQdrantStore(ctx, cfg.QdrantURL)
	if err != nil {
		log.Warnf("qdrant unavailable, falling back to in-process memory: %v", err)
		return lru, nil
	}
	return memory.NewFallbackStore(qdrant, lru, log), nil
}

// buildThinkingEnsemble resolves one model per escalation tier so the
// ThinkingEnsemble's duo/trio/debate strategies have distinct voices to
// draw on, the same way the escalation ladder backs the retry controller.
func buildThinkingEnsemble(ctx context.Context, cfg *config.EngineConfig, log logging.ExtendedLogger) (*thinking.Ensemble, error) {
	models, err := resolveLadderModels(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	ensemble := thinking.NewEnsemble(models)
	ensemble.WithTimeouts(
		time.Duration(cfg.ThinkingCallTimeoutSeconds)*time.Second,
		time.Duration(cfg.ThinkingStrategyTimeoutSeconds)*time.Second,
	)
	return ensemble, nil
}

// buildValidationEnsemble wraps a CompileValidator plus one ModelValidator
// per escalation tier, weighted by cfg.ValidationWeights5 (spec.md §4.4).
func buildValidationEnsemble(ctx context.Context, cfg *config.EngineConfig, log logging.ExtendedLogger) (*validator.Ensemble, int, error) {
	models, err := resolveLadderModels(ctx, cfg, log)
	if err != nil {
		return nil, 0, err
	}
	validators := make([]*validator.ModelValidator, 0, len(models))
	for _, m := range models {
		validators = append(validators, validator.NewModelValidator(m))
	}
	ensemble, err := validator.NewEnsemble(validator.NewCompileValidator(""), validators, cfg.ValidationWeights5)
	if err != nil {
		return nil, 0, err
	}
	return ensemble, len(validators), nil
}

func resolveLadderModels(ctx context.Context, cfg *config.EngineConfig, log logging.ExtendedLogger) ([]llmtypes.Model, error) {
	models := make([]llmtypes.Model, 0, len(cfg.EscalationLadder))
	for _, tier := range cfg.EscalationLadder {
		m, err := llmrunner.New(ctx, llmrunner.Spec{Provider: llmrunner.Provider(tier.Provider), ModelID: tier.Model}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve model %s: %w", tier.Model, err)
		}
		models = append(models, m)
	}
	return models, nil
}

func buildRouter(cfg *config.EngineConfig, manager *jobmanager.Manager, memStore memory.Store, log logging.ExtendedLogger) *router.Router {
	registry := router.NewRegistry()
	registry.Register(&generateCodeTool{manager: manager}, router.ToolSchema{
		Name:        "generate_code",
		Description: "Generate code for a task against a workspace, escalating through models and validators until it passes.",
		Properties: map[string]interface{}{
			"task":          map[string]interface{}{"type": "string"},
			"workspacePath": map[string]interface{}{"type": "string"},
			"language":      map[string]interface{}{"type": "string"},
		},
		Required: []string{"task", "workspacePath"},
	})
	registry.Register(&getStatusTool{manager: manager}, router.ToolSchema{
		Name:        "get_status",
		Description: "Get the current state of a generation job.",
		Properties:  map[string]interface{}{"jobId": map[string]interface{}{"type": "string"}},
		Required:    []string{"jobId"},
	})
	registry.Register(&cancelJobTool{manager: manager}, router.ToolSchema{
		Name:        "cancel_job",
		Description: "Cancel a running or queued generation job.",
		Properties:  map[string]interface{}{"jobId": map[string]interface{}{"type": "string"}},
		Required:    []string{"jobId"},
	})
	registry.Register(&listJobsTool{manager: manager}, router.ToolSchema{
		Name:        "list_jobs",
		Description: "List every retained generation job.",
	})
	registry.Register(&searchMemoryTool{store: memStore}, router.ToolSchema{
		Name:        "search_memory",
		Description: "Search the memory store for prior successes/failures in a context partition.",
		Properties: map[string]interface{}{
			"context": map[string]interface{}{"type": "string"},
			"query":   map[string]interface{}{"type": "string"},
			"limit":   map[string]interface{}{"type": "integer"},
		},
		Required: []string{"context", "query"},
	})

	execTask := &executeTaskTool{}
	registry.Register(execTask, router.ToolSchema{
		Name:        "execute_task",
		Description: "Free-form front door: classify a plain-language request and dispatch it through the matching tool, gating slow operations to a background job.",
		Properties:  map[string]interface{}{"request": map[string]interface{}{"type": "string"}},
		Required:    []string{"request"},
	})

	rt := router.New(nil, registry, manager)
	execTask.router = rt
	return rt
}

func runRetentionSweep(ctx context.Context, manager *jobmanager.Manager, log logging.ExtendedLogger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := manager.SweepRetention(time.Now()); err != nil {
				log.Warnf("retention sweep failed: %v", err)
			} else if n > 0 {
				log.Infof("retention sweep deleted %d job(s)", n)
			}
		}
	}
}
