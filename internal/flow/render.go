package flow

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// Format selects the Graphviz output.
type Format string

const (
	FormatDOT Format = "dot"
	FormatSVG Format = "svg"
)

func RenderDOT(ctx context.Context, title string, d Data) ([]byte, error) {
	return Render(ctx, title, d, FormatDOT)
}

func RenderSVG(ctx context.Context, title string, d Data) ([]byte, error) {
	return Render(ctx, title, d, FormatSVG)
}

// Render lays out flow data with activities as boxes and artifacts as notes.
func Render(ctx context.Context, title string, d Data, format Format) ([]byte, error) {
	var gvFormat graphviz.Format
	switch format {
	case FormatDOT, "":
		gvFormat = graphviz.XDOT
	case FormatSVG:
		gvFormat = graphviz.SVG
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}

	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("create graphviz: %w", err)
	}
	defer gv.Close()

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("create graph: %w", err)
	}
	defer graph.Close()
	graph.SetLabel(title)
	graph.SetRankDir("LR")

	nodes := make(map[string]*cgraph.Node, len(d.Nodes))
	for _, n := range d.Nodes {
		node, err := graph.CreateNodeByName(n.Type + "_" + n.ID)
		if err != nil {
			return nil, fmt.Errorf("create node %s: %w", n.ID, err)
		}
		switch n.Type {
		case NodeActivity:
			node.SetLabel(fmt.Sprintf("%s\n(%s)", n.Label, n.Phase))
			node.SetShape("box")
			node.SetStyle("filled")
			node.SetFillColor("lightblue")
		default:
			node.SetLabel(fmt.Sprintf("%s\n[%s]", n.Label, n.ArtifactType))
			node.SetShape("note")
			node.SetStyle("filled")
			if n.Required {
				node.SetFillColor("lightyellow")
			} else {
				node.SetFillColor("white")
			}
		}
		nodes[n.ID] = node
	}

	for i, e := range d.Edges {
		from, okFrom := nodes[e.From]
		to, okTo := nodes[e.To]
		if !okFrom || !okTo {
			continue
		}
		edge, err := graph.CreateEdgeByName(fmt.Sprintf("%s_%d", e.Type, i), from, to)
		if err != nil {
			return nil, fmt.Errorf("create edge: %w", err)
		}
		edge.SetLabel(e.Type)
		if e.Type == EdgeConsumes && !e.Required {
			edge.SetStyle("dashed")
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, gvFormat, &buf); err != nil {
		return nil, fmt.Errorf("render graph: %w", err)
	}
	return buf.Bytes(), nil
}
