package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripgraph/tripgraph/runtime/hooks"
	"github.com/tripgraph/tripgraph/runtime/itinerary"
	"github.com/tripgraph/tripgraph/runtime/orchestrator"
	"github.com/tripgraph/tripgraph/runtime/runlog"
	"github.com/tripgraph/tripgraph/runtime/session"
	"github.com/tripgraph/tripgraph/runtime/toolcall"
	"github.com/tripgraph/tripgraph/runtime/tools"
	"github.com/tripgraph/tripgraph/runtime/verify"
)

func init() {
	color.NoColor = true
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", "/data")

	cfg, err := loadConfig(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Equal(t, "sqlite", cfg.Store.Kind)
	assert.Equal(t, "/data/tripgraph/tripgraph.db", cfg.Store.SQLite.Path)
	assert.Equal(t, 300*time.Second, cfg.Tools.CacheTTL)
	assert.Equal(t, 30*time.Second, cfg.Tools.Timeout)
	assert.Equal(t, 3, cfg.Orchestrator.MaxRepairs)
	assert.Nil(t, cfg.Tools.KnowledgeItems)
	assert.False(t, cfg.usesRedis())
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tripgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model:
  provider: openai
  max_tokens: 2048
store:
  kind: redis
  redis:
    ttl: 24h
tools:
  cache_ttl: 60s
  knowledge_items: [kb-1, kb-2]
`), 0o600))
	t.Setenv("TRIPGRAPH_MODEL_MAX_TOKENS", "1024")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := loadConfig(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, 1024, cfg.Model.MaxTokens)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, 24*time.Hour, cfg.Store.Redis.TTL)
	assert.Equal(t, time.Minute, cfg.Tools.CacheTTL)
	assert.Equal(t, []string{"kb-1", "kb-2"}, cfg.Tools.KnowledgeItems)
	assert.True(t, cfg.cacheEnabled())
	assert.True(t, cfg.usesRedis())
}

func TestLoadConfigRejectsUnknownValues(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	t.Setenv("TRIPGRAPH_STORE_KIND", "postgres")
	_, err := loadConfig(viper.New(), "")
	require.ErrorContains(t, err, "store.kind")

	t.Setenv("TRIPGRAPH_STORE_KIND", "memory")
	t.Setenv("TRIPGRAPH_MODEL_PROVIDER", "llama")
	_, err = loadConfig(viper.New(), "")
	require.ErrorContains(t, err, "model.provider")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, _, err := executeWithLogs(t, args...)
	return out, err
}

func executeWithLogs(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestInfoLogsAreNotBuffered(t *testing.T) {
	_, logs, err := executeWithLogs(t, "doctor", "--log-format", "json", "--config", writeSQLiteConfig(t))
	require.NoError(t, err)
	require.Contains(t, logs, "configuration loaded")
	require.Contains(t, logs, `"store":"sqlite"`)
}

func TestShowUnknownThread(t *testing.T) {
	_, err := execute(t, "show", "--store", "memory", "--log-format", "json", "nope")
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestThreadsRequiresSQLite(t *testing.T) {
	_, err := execute(t, "threads", "--store", "memory", "--log-format", "json")
	require.ErrorContains(t, err, "sqlite")
}

func TestThreadsListsSQLiteThreads(t *testing.T) {
	out, err := execute(t, "threads", "--log-format", "json", "--config", writeSQLiteConfig(t))
	require.NoError(t, err)
	require.Contains(t, out, "THREAD")
}

func TestDoctorChecksSQLite(t *testing.T) {
	out, err := execute(t, "doctor", "--log-format", "json", "--config", writeSQLiteConfig(t))
	require.NoError(t, err)
	require.Contains(t, out, "session-sqlite")
	require.Contains(t, out, "ok")
}

func writeSQLiteConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tripgraph.yaml")
	cfg := "store:\n  kind: sqlite\n  sqlite:\n    path: " + filepath.Join(dir, "db", "tripgraph.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func TestRenderResult(t *testing.T) {
	cost := 240.0
	var buf bytes.Buffer
	renderResult(&buf, &orchestrator.Result{
		ThreadID:       "t-1",
		AnswerMarkdown: "## Tokyo\nFive days.",
		Itinerary: &itinerary.Itinerary{
			Days: []itinerary.Day{{Date: "2026-10-16", Items: []itinerary.Item{
				{Start: "15:00", End: "16:00", Title: "Check in", Location: "Shibuya", CostUSD: &cost},
			}}},
			TotalCostUSD: 1420,
		},
		Citations: []itinerary.Citation{{Title: "flights", Source: itinerary.SourceTool, Ref: "flights#s1"}},
		ToolsUsed: []toolcall.Usage{{Name: tools.Flights, Count: 2, TotalMS: 40}},
		Degraded:  true,
		Violations: []verify.Violation{{Rule: "budget", Reason: "over budget by $120", ConflictingSteps: []string{"s2"}}},
	})
	out := buf.String()
	for _, want := range []string{
		"thread t-1", "## Tokyo", "2026-10-16", "15:00-16:00  Check in @ Shibuya ($240.00)",
		"total $1420.00 USD", "flights x2 (40ms)", "[tool flights#s1]",
		"budget: over budget by $120 (s2)",
	} {
		assert.Contains(t, out, want)
	}
}

func TestRenderTurns(t *testing.T) {
	var buf bytes.Buffer
	start := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	require.NoError(t, renderTurns(&buf, []runlog.Turn{
		{
			ID: "turn-1", Status: hooks.StatusCompleted, Resumes: 1, StartedAt: start, Duration: 3 * time.Second,
			Summary: &hooks.TurnSummary{ToolCalls: 5, TotalCostUSD: 1420, Degraded: true},
		},
		{ID: "turn-2", Status: hooks.StatusFailed, Node: "plan", Message: "model unavailable", StartedAt: start},
		{ID: "turn-3", Status: runlog.StatusRunning, StartedAt: start},
	}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "CALLS")
	assert.Contains(t, lines[1], "$1420.00")
	assert.Contains(t, lines[1], "degraded, resumed x1")
	assert.Contains(t, lines[1], "3s")
	assert.Contains(t, lines[2], "at plan: model unavailable")
	assert.Contains(t, lines[3], "running")
}

func TestLogTurnsOfUnknownThread(t *testing.T) {
	out, err := execute(t, "log", "--store", "memory", "--log-format", "json", "--turns", "nope")
	require.NoError(t, err)
	require.Equal(t, "TURN", strings.Fields(out)[0])

	_, err = execute(t, "log", "--store", "memory", "--log-format", "json", "--turns", "--turn", "turn-1", "nope")
	require.Error(t, err)
}

func TestProgressSkipsStartedEvents(t *testing.T) {
	var buf bytes.Buffer
	p := newProgress(&buf)
	require.NoError(t, p.HandleEvent(context.Background(), hooks.Event{Type: hooks.TypeNode, Node: "plan", Status: hooks.StatusStarted}))
	require.Empty(t, buf.String())

	require.NoError(t, p.HandleEvent(context.Background(), hooks.Event{Type: hooks.TypeTool, Node: "flights", StepID: "s1", Status: hooks.StatusFailed, Message: "timeout"}))
	require.Contains(t, buf.String(), "✗ flights[s1]")
	require.Contains(t, buf.String(), "timeout")
}
