package cli

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/lifeops/lifeops/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// loadManifests reads every *.yaml / *.yml file in dir as an agent descriptor, sorted by
// file name
func loadManifests(dir string) ([]model.AgentDescriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read agents directory", goerr.V("dir", dir))
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yaml", ".yml":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	descriptors := make([]model.AgentDescriptor, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read agent manifest", goerr.V("path", path))
		}

		var desc model.AgentDescriptor
		if err := yaml.Unmarshal(data, &desc); err != nil {
			return nil, goerr.Wrap(err, "failed to parse agent manifest", goerr.V("path", path))
		}
		if err := desc.Validate(); err != nil {
			return nil, goerr.Wrap(err, "invalid agent manifest", goerr.V("path", path))
		}
		descriptors = append(descriptors, desc)
	}

	return descriptors, nil
}
