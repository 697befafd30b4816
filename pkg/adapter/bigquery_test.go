package adapter_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/lifeops/lifeops/pkg/adapter"
	"github.com/m-mizutani/gt"
)

func TestJobLabels(t *testing.T) {
	t.Run("empty labels only carry app", func(t *testing.T) {
		labels := adapter.JobLabels{}.Map()
		gt.Equal(t, labels, map[string]string{"app": "lifeops"})
	})

	t.Run("values are sanitized", func(t *testing.T) {
		labels := adapter.JobLabels{
			DecisionID: "3F2A-Decision",
			OwnerID:    "Alice@Example.com",
		}.Map()
		gt.Equal(t, labels["decision_id"], "3f2a-decision")
		gt.Equal(t, labels["owner_id"], "alice_example_com")
	})

	t.Run("long values are cut", func(t *testing.T) {
		labels := adapter.JobLabels{OwnerID: strings.Repeat("a", 100)}.Map()
		gt.Equal(t, len(labels["owner_id"]), 63)
	})
}

func TestBigQuery(t *testing.T) {
	projectID := os.Getenv("TEST_BIGQUERY_PROJECT")
	if projectID == "" {
		t.Skip("TEST_BIGQUERY_PROJECT is not set")
	}
	datasetID := os.Getenv("TEST_BIGQUERY_DATASET")
	table := os.Getenv("TEST_BIGQUERY_TABLE")
	if datasetID == "" || table == "" {
		t.Skip("TEST_BIGQUERY_DATASET or TEST_BIGQUERY_TABLE is not set")
	}

	ctx := context.Background()
	client, closeFn, err := adapter.NewBigQuery(ctx, projectID)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = closeFn() })

	query := "SELECT * FROM `" + projectID + "." + datasetID + "." + table + "` LIMIT 10"

	t.Run("EstimateBytes", func(t *testing.T) {
		bytes, err := client.EstimateBytes(ctx, query)
		gt.NoError(t, err)
		gt.True(t, bytes >= 0)
	})

	t.Run("Query truncates", func(t *testing.T) {
		result, err := client.Query(ctx, query, 1, adapter.JobLabels{DecisionID: "integration-test"})
		gt.NoError(t, err)
		gt.True(t, len(result.Rows) <= 1)
		gt.True(t, result.JobID != "")
	})

	t.Run("TableSchema", func(t *testing.T) {
		schema, err := client.TableSchema(ctx, datasetID, table)
		gt.NoError(t, err)
		gt.True(t, len(schema) > 0)
	})
}
