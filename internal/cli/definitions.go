package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/magpieflow/magpie/internal/workflow"
)

// definitionGlob matches workflow definition files beneath a directory.
const definitionGlob = "**/*.{json,toml}"

// loadDefinitionFile reads one workflow definition from a JSON or TOML file.
// The format is chosen by extension.
func loadDefinitionFile(path string) (*workflow.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading definition: %w", err)
	}

	var wf workflow.Workflow
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &wf); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &wf); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported definition format %q (want .json or .toml)", filepath.Ext(path))
	}

	if wf.Name == "" {
		return nil, fmt.Errorf("definition %s has no name", path)
	}
	return &wf, nil
}

// discoverDefinitions expands path into definition files. A regular file is
// returned as-is; a directory is searched recursively for .json and .toml
// files. Results are sorted so import order is stable.
func discoverDefinitions(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	matches, err := doublestar.FilepathGlob(filepath.Join(path, definitionGlob))
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", path, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no definition files under %s", path)
	}
	sort.Strings(matches)
	return matches, nil
}

// resolveWorkflow interprets ref as a stored workflow ID first and a
// workflow name second. Name matching is exact and must be unambiguous.
func resolveWorkflow(rt *runtime, ref string) (*workflow.Workflow, error) {
	if wf, err := rt.store.GetWorkflow(ref); err == nil {
		return wf, nil
	}

	all, err := rt.store.ListWorkflows()
	if err != nil {
		return nil, err
	}
	var found *workflow.Workflow
	for _, wf := range all {
		if wf.Name != ref {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("workflow name %q is ambiguous; use the ID", ref)
		}
		found = wf
	}
	if found == nil {
		return nil, fmt.Errorf("no workflow with ID or name %q", ref)
	}
	return found, nil
}

// encodeJSON writes v to w as indented JSON, the shape every --json flag
// produces.
func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
