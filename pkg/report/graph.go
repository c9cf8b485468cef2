// Package report builds the syndicate overlap graph and writes per-session
// engagement reports.
package report

import (
	"fmt"
	"sort"
)

// Node is one vertex in the syndicate graph: either an identifier value or a
// session that produced it.
type Node struct {
	ID    string `json:"id"`
	Type  string `json:"type"` // "identifier" or "session"
	Label string `json:"label"`
}

// Edge links an identifier node to a session node.
type Edge struct {
	Source string `json:"source"` // identifier node id
	Target string `json:"target"` // session node id
}

// Graph is the syndicate overlap graph: identifiers shared by two or more
// sessions, with edges to every session that produced them.
type Graph struct {
	Nodes   []Node `json:"nodes"`
	Edges   []Edge `json:"edges"`
	Summary string `json:"summary"`
}

// FilterOverlap drops identifiers the operator wants excluded from the graph,
// typically the decoy's own planted contact details.
func FilterOverlap(overlap map[string][]string, ignore []string) map[string][]string {
	if len(ignore) == 0 || len(overlap) == 0 {
		return overlap
	}
	skip := make(map[string]struct{}, len(ignore))
	for _, v := range ignore {
		skip[v] = struct{}{}
	}
	out := make(map[string][]string, len(overlap))
	for v, sessions := range overlap {
		if _, ok := skip[v]; !ok {
			out[v] = sessions
		}
	}
	return out
}

// SyndicateGraph converts the store's overlap map into a renderable graph.
// Output order is deterministic: identifiers sorted by value, sessions sorted
// within each identifier.
func SyndicateGraph(overlap map[string][]string) Graph {
	var g Graph

	values := make([]string, 0, len(overlap))
	for v := range overlap {
		values = append(values, v)
	}
	sort.Strings(values)

	seenSessions := make(map[string]struct{})
	for _, v := range values {
		identID := "ident:" + v
		g.Nodes = append(g.Nodes, Node{ID: identID, Type: "identifier", Label: v})

		sessions := append([]string(nil), overlap[v]...)
		sort.Strings(sessions)
		for _, sess := range sessions {
			sessID := "session:" + sess
			if _, ok := seenSessions[sess]; !ok {
				seenSessions[sess] = struct{}{}
				g.Nodes = append(g.Nodes, Node{ID: sessID, Type: "session", Label: sess})
			}
			g.Edges = append(g.Edges, Edge{Source: identID, Target: sessID})
		}
	}

	if len(values) == 0 {
		g.Summary = "No identifier overlap across sessions yet."
	} else {
		g.Summary = fmt.Sprintf("%d identifier(s) shared across %d session(s).",
			len(values), len(seenSessions))
	}
	return g
}
