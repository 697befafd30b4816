package bigquery

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	bq "cloud.google.com/go/bigquery"
	"github.com/lifeops/lifeops/pkg/adapter"
	"github.com/lifeops/lifeops/pkg/agent"
	"github.com/lifeops/lifeops/pkg/model"
	"github.com/lifeops/lifeops/pkg/utils/logging"
)

const Slug = "bigquery"

const (
	CommandQuery   = "query"
	CommandSchema  = "schema"
	CommandTables  = "tables"
	CommandRunBook = "runbook"
)

// Agent answers consultations with guarded BigQuery SQL. Every query is dry-run first
// and rejected when the scan exceeds the configured limit.
type Agent struct {
	bq              adapter.BigQuery
	runBooks        map[string]*RunBook
	tables          []TableInfo
	scanLimitMB     int64
	resultLimitRows int
}

var _ agent.Agent = (*Agent)(nil)

type Option func(*Agent)

func WithRunBooks(runBooks map[string]*RunBook) Option {
	return func(a *Agent) {
		a.runBooks = runBooks
	}
}

func WithTables(tables []TableInfo) Option {
	return func(a *Agent) {
		a.tables = tables
	}
}

// WithScanLimitMB sets the dry-run scan ceiling in MB
func WithScanLimitMB(limit int64) Option {
	return func(a *Agent) {
		a.scanLimitMB = limit
	}
}

// WithResultLimitRows caps the rows returned per query
func WithResultLimitRows(limit int) Option {
	return func(a *Agent) {
		a.resultLimitRows = limit
	}
}

func New(client adapter.BigQuery, opts ...Option) *Agent {
	a := &Agent{
		bq:              client,
		runBooks:        make(map[string]*RunBook),
		scanLimitMB:     1024,
		resultLimitRows: 100,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Manifest is the registry descriptor. Known tables go into the metadata so planners can
// see what the agent can answer about.
func (a *Agent) Manifest() model.AgentDescriptor {
	timeout := 2 * time.Minute
	retries := 1

	tables := make([]string, 0, len(a.tables))
	for _, t := range a.tables {
		tables = append(tables, t.FullName())
	}

	desc := model.AgentDescriptor{
		Slug:        Slug,
		Name:        "BigQuery Analyst",
		Description: "Answers questions with SQL over configured BigQuery tables.",
		Version:     "1.0.0",
		Capabilities: []model.Capability{
			{Name: CommandQuery, Description: fmt.Sprintf("Run SQL with a %d MB scan limit", a.scanLimitMB)},
			{Name: CommandSchema, Description: "Describe the schema of a table"},
			{Name: CommandTables, Description: "List configured tables"},
		},
		Config: &model.AgentConfigPatch{
			Timeout:    &timeout,
			MaxRetries: &retries,
		},
		Metadata: map[string]any{
			"tables": tables,
		},
	}
	if len(a.runBooks) > 0 {
		desc.Capabilities = append(desc.Capabilities, model.Capability{
			Name:        CommandRunBook,
			Description: "Run a stored SQL runbook by ID",
		})
	}
	return desc
}

func (a *Agent) Execute(ctx context.Context, input *agent.Context) (*agent.Result, error) {
	switch input.Command {
	case CommandQuery:
		sql := input.String("query")
		if sql == "" {
			return agent.Fail("query parameter is required"), nil
		}
		return a.runQuery(ctx, input, sql)

	case CommandRunBook:
		id := input.String("runbook_id")
		rb, ok := a.runBooks[id]
		if !ok {
			return agent.Fail("runbook %s not found", id), nil
		}
		res, err := a.runQuery(ctx, input, rb.Query)
		if res != nil && res.Success {
			res.Data["runbook_id"] = rb.ID
			res.Data["title"] = rb.Title
		}
		return res, err

	case CommandSchema:
		return a.schema(ctx, input)

	case CommandTables:
		tables := make([]map[string]any, 0, len(a.tables))
		for _, t := range a.tables {
			tables = append(tables, map[string]any{
				"name":        t.FullName(),
				"description": t.Description,
			})
		}
		runBooks := make([]map[string]any, 0, len(a.runBooks))
		for _, id := range a.runBookIDs() {
			rb := a.runBooks[id]
			runBooks = append(runBooks, map[string]any{
				"id":          rb.ID,
				"title":       rb.Title,
				"description": rb.Description,
			})
		}
		return agent.Succeed(map[string]any{"tables": tables, "runbooks": runBooks}), nil

	default:
		return agent.Fail("Unknown command: %s", input.Command), nil
	}
}

func (a *Agent) runQuery(ctx context.Context, input *agent.Context, sql string) (*agent.Result, error) {
	logger := logging.From(ctx)

	scanBytes, err := a.bq.EstimateBytes(ctx, sql)
	if err != nil {
		// Dry-run rejections are SQL errors, retrying will not help
		return agent.Fail("dry run failed: %v", err), nil
	}

	scanMB := scanBytes / (1024 * 1024)
	if scanMB > a.scanLimitMB {
		res := agent.Fail("query scan size (%d MB) exceeds limit (%d MB)", scanMB, a.scanLimitMB)
		res.Data = map[string]any{
			"scan_size_bytes": scanBytes,
			"scan_size_mb":    scanMB,
			"limit_mb":        a.scanLimitMB,
		}
		return res, nil
	}

	logger.Debug("running BigQuery query", "scan_mb", scanMB, "query", abbreviate(sql, 100))
	result, err := a.bq.Query(ctx, sql, a.resultLimitRows, adapter.JobLabels{
		DecisionID: string(input.DecisionID),
		OwnerID:    input.OwnerID,
	})
	if err != nil {
		return nil, err
	}

	rows := make([]any, 0, len(result.Rows))
	for _, row := range result.Rows {
		rows = append(rows, normalizeValue(row))
	}

	return agent.Succeed(map[string]any{
		"job_id":          result.JobID,
		"rows":            rows,
		"row_count":       len(rows),
		"truncated":       result.Truncated,
		"scan_size_bytes": scanBytes,
		"scan_size_mb":    scanMB,
	}), nil
}

func (a *Agent) schema(ctx context.Context, input *agent.Context) (*agent.Result, error) {
	dataset := input.String("dataset_id")
	table := input.String("table")
	if dataset == "" || table == "" {
		return agent.Fail("dataset_id and table parameters are required"), nil
	}

	schema, err := a.bq.TableSchema(ctx, dataset, table)
	if err != nil {
		return nil, err
	}

	return agent.Succeed(map[string]any{
		"table":  dataset + "." + table,
		"fields": schemaFields(schema),
	}), nil
}

func schemaFields(schema bq.Schema) []any {
	fields := make([]any, 0, len(schema))
	for _, f := range schema {
		field := map[string]any{
			"name":     f.Name,
			"type":     string(f.Type),
			"required": f.Required,
			"repeated": f.Repeated,
		}
		if f.Description != "" {
			field["description"] = f.Description
		}
		if len(f.Schema) > 0 {
			field["fields"] = schemaFields(f.Schema)
		}
		fields = append(fields, field)
	}
	return fields
}

func (a *Agent) runBookIDs() []string {
	ids := make([]string, 0, len(a.runBooks))
	for id := range a.runBooks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// normalizeValue converts BigQuery row values into plain JSON-compatible values so that
// consultation outputs can be stored by every repository backend
func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil, string, bool, int64, float64, int, time.Time:
		return x
	case []byte:
		return string(x)
	case *big.Rat:
		return x.FloatString(9)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalizeValue(e)
		}
		return out
	case map[string]bq.Value:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalizeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeValue(e)
		}
		return out
	case []bq.Value:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeValue(e)
		}
		return out
	case fmt.Stringer:
		return x.String()
	default:
		return x
	}
}

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
