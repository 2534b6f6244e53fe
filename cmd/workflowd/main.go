// Command workflowd is the HTTP entrypoint for the deliverable workflow
// runtime, grounded on runtime/app.go's App.Start (Initialize → load →
// register HTTP endpoints → graceful shutdown) and runtime/http_handler.go's
// per-request handler shape, generalized from one Flow's single registered
// route to the fixed three-route surface spec.md §6/SPEC_FULL.md §6 name:
// execute a workflow, stream its events over SSE, and cancel it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sflowg-labs/deliverable-workflows/audit"
	"github.com/sflowg-labs/deliverable-workflows/catalog"
	"github.com/sflowg-labs/deliverable-workflows/metrics"
	"github.com/sflowg-labs/deliverable-workflows/notify"
	"github.com/sflowg-labs/deliverable-workflows/orchestrator"
	"github.com/sflowg-labs/deliverable-workflows/riskrules"
	stephttp "github.com/sflowg-labs/deliverable-workflows/stepexecutors/http"
	steplm "github.com/sflowg-labs/deliverable-workflows/stepexecutors/llm"
	"github.com/sflowg-labs/deliverable-workflows/streaming"
	"github.com/sflowg-labs/deliverable-workflows/workflow"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	workflowsDir := envOr("WORKFLOWD_WORKFLOWS_DIR", "./workflows")
	rulesDir := envOr("WORKFLOWD_RULES_DIR", "./rules")
	addr := envOr("WORKFLOWD_ADDR", ":8080")

	reg := workflow.Registry{
		"http.request": stephttp.New(stephttp.DefaultConfig()),
	}
	if apiKey := os.Getenv("WORKFLOWD_ANTHROPIC_API_KEY"); apiKey != "" {
		cfg := steplm.DefaultConfig()
		cfg.APIKey = apiKey
		if model := os.Getenv("WORKFLOWD_ANTHROPIC_MODEL"); model != "" {
			cfg.Model = model
		}
		reg["llm.chat"] = steplm.New(cfg)
	}

	orch := orchestrator.New(
		catalog.NewFilesystemCatalog(workflowsDir),
		catalog.NewFilesystemRiskRulesStore(rulesDir),
		reg,
		streaming.NewManager(),
		audit.NewMemorySink(),
		logger,
	)
	if token := os.Getenv("WORKFLOWD_SLACK_TOKEN"); token != "" {
		channel := envOr("WORKFLOWD_SLACK_CHANNEL", "#workflow-review")
		orch.SetHITLNotifier(notify.NewSlackNotifier(token, channel))
	}
	orch.SetMetricsCollector(metrics.New("workflowd"))

	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()
	registerRoutes(router, orch, logger)

	srv := &http.Server{Addr: addr, Handler: router}

	shutdownChan := make(chan error, 1)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		shutdownChan <- srv.Shutdown(shutdownCtx)
	}()

	logger.Info("workflowd listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	if err := <-shutdownChan; err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func registerRoutes(r *gin.Engine, orch *orchestrator.Orchestrator, logger *slog.Logger) {
	r.POST("/workflows/:schemaKey/:version/execute", func(c *gin.Context) {
		var body struct {
			Input      map[string]any      `json:"input"`
			Context    map[string]any      `json:"context"`
			Assessment riskrules.Assessment `json:"assessment"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := orch.ExecuteWorkflow(c.Request.Context(), orchestrator.ExecuteRequest{
			SchemaKey:  c.Param("schemaKey"),
			Version:    c.Param("version"),
			Input:      body.Input,
			Context:    body.Context,
			Assessment: body.Assessment,
		})
		if err != nil {
			logger.Error("execute workflow failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	r.GET("/workflows/executions/:id/events", func(c *gin.Context) {
		sub := orch.StreamEvents(c.Param("id"))
		defer sub.Close()

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.WriteHeader(http.StatusOK)
		flusher, canFlush := c.Writer.(http.Flusher)

		for {
			select {
			case event, ok := <-sub.Events:
				if !ok {
					return
				}
				line, err := json.Marshal(event)
				if err != nil {
					continue
				}
				fmt.Fprintf(c.Writer, "data: %s\n\n", line)
				if canFlush {
					flusher.Flush()
				}
			case <-c.Request.Context().Done():
				return
			}
		}
	})

	r.POST("/workflows/executions/:id/cancel", func(c *gin.Context) {
		orch.CancelExecution(c.Param("id"))
		c.JSON(http.StatusAccepted, gin.H{"acknowledged": true})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
