package bigquery_test

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	bq "cloud.google.com/go/bigquery"
	"github.com/lifeops/lifeops/pkg/adapter"
	"github.com/lifeops/lifeops/pkg/agent"
	"github.com/lifeops/lifeops/pkg/agent/bigquery"
	"github.com/lifeops/lifeops/pkg/repository"
	"github.com/m-mizutani/gt"
)

type mockBigQuery struct {
	adapter.BigQuery
	scanBytes int64
	dryRunErr error
	rows      []map[string]bq.Value
	queries   []string
	maxRows   int
	labels    adapter.JobLabels
}

func (m *mockBigQuery) EstimateBytes(ctx context.Context, query string) (int64, error) {
	return m.scanBytes, m.dryRunErr
}

func (m *mockBigQuery) Query(ctx context.Context, query string, maxRows int, labels adapter.JobLabels) (*adapter.QueryResult, error) {
	m.queries = append(m.queries, query)
	m.maxRows = maxRows
	m.labels = labels
	result := &adapter.QueryResult{JobID: "job-1", Rows: m.rows}
	if maxRows > 0 && len(m.rows) > maxRows {
		result.Rows = m.rows[:maxRows]
		result.Truncated = true
	}
	return result, nil
}

func (m *mockBigQuery) TableSchema(ctx context.Context, datasetID, table string) (bq.Schema, error) {
	if table != "sleep" {
		return nil, errors.New("table not found")
	}
	return bq.Schema{
		{Name: "day", Type: bq.DateFieldType, Required: true},
		{Name: "hours", Type: bq.FloatFieldType, Description: "hours slept"},
		{Name: "tags", Type: bq.RecordFieldType, Repeated: true, Schema: bq.Schema{
			{Name: "label", Type: bq.StringFieldType},
		}},
	}, nil
}

func install(t *testing.T, a *bigquery.Agent) (*agent.Runtime, func(agent.Context) agent.Result) {
	repo, err := repository.NewInProcess()
	gt.NoError(t, err)
	rt := agent.New(repo, agent.WithRetryInterval(0))

	record, err := rt.Install(context.Background(), a.Manifest(), a)
	gt.NoError(t, err)
	return rt, func(input agent.Context) agent.Result {
		return rt.Execute(context.Background(), record, input)
	}
}

func TestQuery(t *testing.T) {
	mock := &mockBigQuery{
		scanBytes: 3 * 1024 * 1024,
		rows: []map[string]bq.Value{
			{"day": "2026-01-01", "hours": 7.5, "ratio": big.NewRat(1, 4)},
			{"day": "2026-01-02", "hours": 6.0, "ratio": big.NewRat(1, 2)},
			{"day": "2026-01-03", "hours": 8.0, "ratio": big.NewRat(3, 4)},
		},
	}
	_, exec := install(t, bigquery.New(mock, bigquery.WithResultLimitRows(2)))

	res := exec(agent.Context{
		OwnerID:    "Alice@example.com",
		DecisionID: "d-1",
		Command:    "query",
		Input:      map[string]any{"query": "SELECT day, hours FROM life.sleep"},
	})
	gt.True(t, res.Success)
	gt.Equal(t, res.Data["row_count"], any(2))
	gt.Equal(t, res.Data["truncated"], any(true))
	gt.Equal(t, res.Data["scan_size_mb"], any(int64(3)))
	gt.Equal(t, res.Data["job_id"], any("job-1"))
	gt.Equal(t, mock.maxRows, 2)
	gt.Equal(t, mock.labels.DecisionID, "d-1")
	gt.Equal(t, mock.labels.OwnerID, "Alice@example.com")

	rows := res.Data["rows"].([]any)
	first := rows[0].(map[string]any)
	gt.Equal(t, first["ratio"], any("0.250000000"))
}

func TestQueryScanLimit(t *testing.T) {
	mock := &mockBigQuery{scanBytes: 50 * 1024 * 1024}
	_, exec := install(t, bigquery.New(mock, bigquery.WithScanLimitMB(10)))

	res := exec(agent.Context{
		Command: "query",
		Input:   map[string]any{"query": "SELECT * FROM life.events"},
	})
	gt.False(t, res.Success)
	gt.S(t, res.Error).Contains("exceeds limit")
	gt.A(t, mock.queries).Length(0)
}

func TestQueryFailures(t *testing.T) {
	t.Run("missing query", func(t *testing.T) {
		_, exec := install(t, bigquery.New(&mockBigQuery{}))
		res := exec(agent.Context{Command: "query"})
		gt.False(t, res.Success)
		gt.S(t, res.Error).Contains("query parameter is required")
	})

	t.Run("dry run rejected", func(t *testing.T) {
		mock := &mockBigQuery{dryRunErr: errors.New("Syntax error at [1:8]")}
		_, exec := install(t, bigquery.New(mock))
		res := exec(agent.Context{Command: "query", Input: map[string]any{"query": "SELEC"}})
		gt.False(t, res.Success)
		gt.S(t, res.Error).Contains("Syntax error")
	})

	t.Run("unknown command", func(t *testing.T) {
		_, exec := install(t, bigquery.New(&mockBigQuery{}))
		res := exec(agent.Context{Command: "drop_table"})
		gt.False(t, res.Success)
		gt.Equal(t, res.Error, "Unknown command: drop_table")
	})
}

func TestSchema(t *testing.T) {
	_, exec := install(t, bigquery.New(&mockBigQuery{}))

	res := exec(agent.Context{
		Command: "schema",
		Input:   map[string]any{"dataset_id": "life", "table": "sleep"},
	})
	gt.True(t, res.Success)
	gt.Equal(t, res.Data["table"], any("life.sleep"))

	fields := res.Data["fields"].([]any)
	gt.A(t, fields).Length(3)
	tags := fields[2].(map[string]any)
	gt.Equal(t, tags["repeated"], any(true))
	gt.A(t, tags["fields"].([]any)).Length(1)

	res = exec(agent.Context{Command: "schema", Input: map[string]any{"table": "sleep"}})
	gt.False(t, res.Success)
}

func TestRunBooksAndTables(t *testing.T) {
	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "weekly_sleep.sql"), []byte(`-- title: Weekly sleep
-- description: Average hours per week

SELECT AVG(hours) FROM life.sleep`), 0o644))
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	tablesPath := filepath.Join(dir, "tables.yaml")
	gt.NoError(t, os.WriteFile(tablesPath, []byte(`tables:
  - project: p
    dataset: life
    table: sleep
    description: nightly sleep log
`), 0o644))

	runBooks, err := bigquery.LoadRunBooks(dir)
	gt.NoError(t, err)
	gt.M(t, runBooks).Length(1)
	rb := runBooks["weekly_sleep"]
	gt.Equal(t, rb.Title, "Weekly sleep")
	gt.Equal(t, rb.Description, "Average hours per week")
	gt.Equal(t, rb.Query, "SELECT AVG(hours) FROM life.sleep")

	tables, err := bigquery.LoadTables(tablesPath)
	gt.NoError(t, err)
	gt.A(t, tables).Length(1)
	gt.Equal(t, tables[0].FullName(), "p.life.sleep")

	mock := &mockBigQuery{rows: []map[string]bq.Value{{"avg": 7.1}}}
	a := bigquery.New(mock, bigquery.WithRunBooks(runBooks), bigquery.WithTables(tables))
	gt.True(t, a.Manifest().Capabilities[len(a.Manifest().Capabilities)-1].Name == "runbook")
	_, exec := install(t, a)

	res := exec(agent.Context{Command: "runbook", Input: map[string]any{"runbook_id": "weekly_sleep"}})
	gt.True(t, res.Success)
	gt.Equal(t, res.Data["title"], any("Weekly sleep"))
	gt.Equal(t, mock.queries, []string{"SELECT AVG(hours) FROM life.sleep"})

	res = exec(agent.Context{Command: "runbook", Input: map[string]any{"runbook_id": "missing"}})
	gt.False(t, res.Success)

	res = exec(agent.Context{Command: "tables"})
	gt.True(t, res.Success)
	listed := res.Data["tables"].([]map[string]any)
	gt.Equal(t, listed[0]["name"], any("p.life.sleep"))
}

func TestBigQueryIntegration(t *testing.T) {
	project := os.Getenv("TEST_BIGQUERY_PROJECT")
	if project == "" {
		t.Skip("TEST_BIGQUERY_PROJECT is not set")
	}

	ctx := context.Background()
	client, closeFn, err := adapter.NewBigQuery(ctx, project)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = closeFn() })

	_, exec := install(t, bigquery.New(client))
	res := exec(agent.Context{Command: "query", Input: map[string]any{"query": "SELECT 1 AS one"}})
	gt.True(t, res.Success)
	gt.Equal(t, res.Data["row_count"], any(1))
}
