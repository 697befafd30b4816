package adapter

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
)

// JobLabels tag BigQuery jobs so that scan cost can be traced back to the decision and
// owner that caused it
type JobLabels struct {
	DecisionID string
	OwnerID    string
}

var invalidLabelChars = regexp.MustCompile(`[^a-z0-9_-]`)

// labelValue lowers s and replaces characters BigQuery rejects in label values
func labelValue(s string) string {
	v := invalidLabelChars.ReplaceAllString(strings.ToLower(s), "_")
	if len(v) > 63 {
		v = v[:63]
	}
	return v
}

func (l JobLabels) toMap() map[string]string {
	labels := map[string]string{"app": "lifeops"}
	if l.DecisionID != "" {
		labels["decision_id"] = labelValue(l.DecisionID)
	}
	if l.OwnerID != "" {
		labels["owner_id"] = labelValue(l.OwnerID)
	}
	return labels
}

// QueryResult is a finished query. Rows holds at most the requested number of rows.
type QueryResult struct {
	JobID     string
	Rows      []map[string]bigquery.Value
	Truncated bool
}

// BigQuery is the subset of BigQuery used by the analytics agent
type BigQuery interface {
	// EstimateBytes dry-runs the query and returns the number of bytes it would scan
	EstimateBytes(ctx context.Context, query string) (int64, error)

	// Query runs the query to completion and returns at most maxRows rows
	Query(ctx context.Context, query string, maxRows int, labels JobLabels) (*QueryResult, error)

	// TableSchema returns the schema of dataset.table in the client's project
	TableSchema(ctx context.Context, datasetID, table string) (bigquery.Schema, error)
}

type bigqueryClient struct {
	client *bigquery.Client
}

// NewBigQuery creates a BigQuery client billed to projectID
func NewBigQuery(ctx context.Context, projectID string) (BigQuery, func() error, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create BigQuery client", goerr.V("project", projectID))
	}

	return &bigqueryClient{client: client}, client.Close, nil
}

func (x *bigqueryClient) EstimateBytes(ctx context.Context, query string) (int64, error) {
	q := x.client.Query(query)
	q.DryRun = true

	job, err := q.Run(ctx)
	if err != nil {
		return 0, goerr.Wrap(err, "dry run rejected the query")
	}

	st := job.LastStatus()
	if st == nil || st.Statistics == nil {
		return 0, goerr.New("dry run returned no statistics")
	}
	return st.Statistics.TotalBytesProcessed, nil
}

func (x *bigqueryClient) Query(ctx context.Context, query string, maxRows int, labels JobLabels) (*QueryResult, error) {
	q := x.client.Query(query)
	q.Labels = labels.toMap()

	job, err := q.Run(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to start query", goerr.V("decision_id", labels.DecisionID))
	}
	wrap := func(err error, msg string) error {
		return goerr.Wrap(err, msg, goerr.V("job_id", job.ID()), goerr.V("decision_id", labels.DecisionID))
	}

	st, err := job.Wait(ctx)
	if err != nil {
		return nil, wrap(err, "failed to wait for query")
	}
	if err := st.Err(); err != nil {
		return nil, wrap(err, "query failed")
	}

	it, err := job.Read(ctx)
	if err != nil {
		return nil, wrap(err, "failed to read query result")
	}

	result := &QueryResult{JobID: job.ID()}
	for {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, wrap(err, "failed to iterate query result")
		}
		if maxRows > 0 && len(result.Rows) == maxRows {
			result.Truncated = true
			break
		}
		result.Rows = append(result.Rows, row)
	}

	return result, nil
}

func (x *bigqueryClient) TableSchema(ctx context.Context, datasetID, table string) (bigquery.Schema, error) {
	md, err := x.client.Dataset(datasetID).Table(table).Metadata(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get table metadata",
			goerr.V("dataset", datasetID),
			goerr.V("table", table))
	}
	return md.Schema, nil
}
