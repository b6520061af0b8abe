package visual

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dinindunz/strands-agent-cli/app/service/memory"

	_ "embed"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/oops"
)

//go:embed template.html
var pageTemplate string

var page = template.Must(template.New("graph").Parse(pageTemplate))

const pageTitle = "Knowledge Graph"

type node struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Group string `json:"group"`
	Title string `json:"title"`
}

type edge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label"`
}

type pageData struct {
	Title         string
	Generated     string
	EntityCount   int
	RelationCount int
	Nodes         []node
	Edges         []edge
}

// Render writes an interactive page of graph to w.
func Render(w io.Writer, graph *memory.KnowledgeGraph) error {
	data := pageData{
		Title:         pageTitle,
		Generated:     time.Now().Format(time.RFC3339),
		EntityCount:   len(graph.Entities),
		RelationCount: len(graph.Relations),
		Nodes: pie.Map(graph.Entities, func(e *memory.Entity) node {
			return node{
				ID:    nodeID(e.Name),
				Label: e.Name,
				Group: e.Type,
				Title: tooltip(e),
			}
		}),
		Edges: pie.Map(graph.Relations, func(r *memory.Relation) edge {
			return edge{
				From:  nodeID(r.From),
				To:    nodeID(r.To),
				Label: r.Type,
			}
		}),
	}

	if err := page.Execute(w, data); err != nil {
		return oops.In("visual").Errorf("failed to render graph page: %w", err)
	}

	return nil
}

// RenderFile reads the graph stored under root and writes the page to path.
func RenderFile(ctx context.Context, root, path string) (*memory.KnowledgeGraph, error) {
	store, err := memory.OpenStore(ctx, root)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	graph, err := store.Graph(ctx)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err = Render(&buf, graph); err != nil {
		return nil, err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err = os.MkdirAll(dir, 0755); err != nil {
			return nil, oops.In("visual").With("path", path).Errorf("failed to create output directory: %w", err)
		}
	}

	if err = os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return nil, oops.In("visual").With("path", path).Errorf("failed to write graph page: %w", err)
	}

	return graph, nil
}

func nodeID(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func tooltip(e *memory.Entity) string {
	if len(e.Observations) == 0 {
		return fmt.Sprintf("%s (%s)", e.Name, e.Type)
	}
	return fmt.Sprintf("%s (%s)\n- %s", e.Name, e.Type, strings.Join(e.Observations, "\n- "))
}
