package bigquery

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// RunBook is a stored SQL query with title and description taken from leading comments
type RunBook struct {
	ID          string
	Title       string
	Description string
	FilePath    string
	Query       string
}

// LoadRunBooks loads every .sql file in dir. The file name without extension is the ID.
func LoadRunBooks(dir string) (map[string]*RunBook, error) {
	if dir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read runbook directory", goerr.V("dir", dir))
	}

	runBooks := make(map[string]*RunBook)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read runbook file", goerr.V("file", path))
		}

		title, description, sql := parseRunBook(string(content))
		id := strings.TrimSuffix(entry.Name(), ".sql")
		runBooks[id] = &RunBook{
			ID:          id,
			Title:       title,
			Description: description,
			FilePath:    path,
			Query:       sql,
		}
	}

	return runBooks, nil
}

// parseRunBook extracts `-- title:` and `-- description:` headers; other leading
// comments are dropped
func parseRunBook(content string) (title, description, sql string) {
	var sqlLines []string
	inHeader := true

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)

		if v, ok := headerValue(trimmed, "title"); ok {
			title = v
			continue
		}
		if v, ok := headerValue(trimmed, "description"); ok {
			description = v
			continue
		}
		if inHeader && (trimmed == "" || strings.HasPrefix(trimmed, "--")) {
			continue
		}

		inHeader = false
		sqlLines = append(sqlLines, line)
	}

	sql = strings.TrimSpace(strings.Join(sqlLines, "\n"))
	return
}

func headerValue(line, key string) (string, bool) {
	for _, prefix := range []string{"-- " + key + ":", "--" + key + ":"} {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix)), true
		}
	}
	return "", false
}

// TableInfo is a BigQuery table the agent is told about
type TableInfo struct {
	Project     string `yaml:"project"`
	Dataset     string `yaml:"dataset"`
	Table       string `yaml:"table"`
	Description string `yaml:"description"`
}

// FullName returns project.dataset.table
func (t *TableInfo) FullName() string {
	return fmt.Sprintf("%s.%s.%s", t.Project, t.Dataset, t.Table)
}

type tableConfig struct {
	Tables []TableInfo `yaml:"tables"`
}

// LoadTables loads the table list from a YAML file with a top-level `tables` key
func LoadTables(path string) ([]TableInfo, error) {
	if path == "" {
		return nil, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read table list file", goerr.V("file", path))
	}

	var cfg tableConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse table list file", goerr.V("file", path))
	}
	return cfg.Tables, nil
}
