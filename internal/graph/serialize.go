package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Marshal renders the graph to its stable textual form. Round-tripping
// through Marshal/Unmarshal yields an equal graph.
func (g *Graph) Marshal() ([]byte, error) {
	return json.MarshalIndent(g, "", "  ")
}

// Unmarshal parses a graph from its stable textual form.
func Unmarshal(data []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("unmarshal graph: %w", err)
	}
	if g.DependsOn == nil {
		g.DependsOn = map[string][]string{}
	}
	return &g, nil
}

// Save persists the graph under dir, keyed by task id, as "<task_id>.json".
func (g *Graph) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create plans dir: %w", err)
	}
	data, err := g.Marshal()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, g.TaskID+".json")
	return os.WriteFile(path, data, 0644)
}

// Load reads back a graph previously saved under dir for taskID.
func Load(dir, taskID string) (*Graph, error) {
	data, err := os.ReadFile(filepath.Join(dir, taskID+".json"))
	if err != nil {
		return nil, fmt.Errorf("read plan for %s: %w", taskID, err)
	}
	return Unmarshal(data)
}
