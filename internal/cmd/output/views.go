package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/agentstation/assetsync/pkg/reconciler"
	"github.com/agentstation/assetsync/pkg/tree"
)

// ResultView is the printable form of a cycle result.
type ResultView struct {
	CycleID   string        `json:"cycleId" yaml:"cycleId"`
	Source    string        `json:"source" yaml:"source"`
	Kind      string        `json:"kind" yaml:"kind"`
	Summary   string        `json:"summary" yaml:"summary"`
	Added     int           `json:"added" yaml:"added"`
	Updated   int           `json:"updated" yaml:"updated"`
	Removed   int           `json:"removed" yaml:"removed"`
	Failed    int           `json:"failed" yaml:"failed"`
	Skipped   bool          `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Severity  string        `json:"severity,omitempty" yaml:"severity,omitempty"`
	Messages  []string      `json:"messages,omitempty" yaml:"messages,omitempty"`
	StartedAt string        `json:"startedAt" yaml:"startedAt"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}

// NewResultView converts a cycle result.
func NewResultView(res *reconciler.Result) ResultView {
	v := ResultView{
		CycleID:   res.CycleID,
		Source:    res.Source,
		Kind:      string(res.Kind),
		Summary:   res.Summary(),
		Added:     res.Added(),
		Updated:   res.Updated(),
		Removed:   res.Removed(),
		Failed:    res.Failed(),
		Skipped:   res.Skipped,
		StartedAt: res.StartedAt.Format(time.RFC3339),
		Duration:  res.Duration,
	}
	if res.Failure != nil {
		v.Severity = res.Failure.Severity.String()
	}
	for _, n := range res.Notes {
		for _, msg := range n.Failure.Messages {
			v.Messages = append(v.Messages, fmt.Sprintf("[%s] %s: %s", n.Failure.Severity, n.Stage, msg))
		}
	}
	return v
}

// TableData implements Tabular.
func (v ResultView) TableData(wide bool) Data {
	rows := [][]string{
		{"Source", v.Source},
		{"Kind", v.Kind},
		{"Summary", v.Summary},
	}
	if v.Skipped {
		rows = append(rows, []string{"Skipped", "source unavailable"})
	}
	if v.Severity != "" {
		rows = append(rows, []string{"Severity", v.Severity})
	}
	if wide {
		rows = append(rows,
			[]string{"Cycle", v.CycleID},
			[]string{"Started", v.StartedAt},
			[]string{"Duration", v.Duration.String()},
		)
	}
	for i, msg := range v.Messages {
		label := ""
		if i == 0 {
			label = "Messages"
		}
		rows = append(rows, []string{label, msg})
	}
	return Data{
		Headers: []string{"Property", "Value"},
		Rows:    rows,
	}
}

// EntryView is the printable form of a registered resource.
type EntryView struct {
	Chain          string `json:"chain" yaml:"chain"`
	Path           string `json:"path,omitempty" yaml:"path,omitempty"`
	AssetID        string `json:"assetId" yaml:"assetId"`
	ModelType      string `json:"modelType,omitempty" yaml:"modelType,omitempty"`
	AccessPolicy   string `json:"accessPolicy" yaml:"accessPolicy"`
	ContractPolicy string `json:"contractPolicy" yaml:"contractPolicy"`
}

// EntriesView lists registered resources.
type EntriesView []EntryView

// NewEntriesView converts registered entries.
func NewEntriesView(entries []tree.Entry) EntriesView {
	out := make(EntriesView, 0, len(entries))
	for _, e := range entries {
		modelType, _ := e.Resource.Properties["modelType"].(string)
		out = append(out, EntryView{
			Chain:          e.Key(),
			Path:           e.Chain.IDShortPath(),
			AssetID:        e.Resource.ID,
			ModelType:      modelType,
			AccessPolicy:   e.Binding.AccessPolicyID,
			ContractPolicy: e.Binding.ContractPolicyID,
		})
	}
	return out
}

// TableData implements Tabular.
func (v EntriesView) TableData(wide bool) Data {
	headers := []string{"Path", "Type", "Asset", "Access Policy", "Contract Policy"}
	if wide {
		headers = append(headers, "Chain")
	}
	rows := make([][]string, 0, len(v))
	for _, e := range v {
		path := e.Path
		if path == "" {
			path = e.Chain
		}
		row := []string{path, e.ModelType, e.AssetID, e.AccessPolicy, e.ContractPolicy}
		if wide {
			row = append(row, e.Chain)
		}
		rows = append(rows, row)
	}
	return Data{Headers: headers, Rows: rows}
}

// SnapshotView wraps a snapshot for table output; structured formats print
// the snapshot as is.
type SnapshotView struct {
	*reconciler.Snapshot
}

// TableData implements Tabular. Descriptions are printed depth first with
// the tree shape shown by indentation.
func (v SnapshotView) TableData(wide bool) Data {
	headers := []string{"Element", "Type", "Asset", "Access Policy", "Contract Policy"}
	if wide {
		headers = append(headers, "Chain")
	}
	var rows [][]string
	var walk func(d *tree.Description, depth int)
	walk = func(d *tree.Description, depth int) {
		name := d.IDShort
		if name == "" {
			name = d.ID
		}
		row := []string{strings.Repeat("  ", depth) + name, string(d.Kind), d.AssetID, "", ""}
		if d.Policies != nil {
			row[3], row[4] = d.Policies.AccessPolicyID, d.Policies.ContractPolicyID
		}
		if wide {
			row = append(row, d.Chain)
		}
		rows = append(rows, row)
		for _, c := range d.Children {
			walk(c, depth+1)
		}
	}
	for _, root := range v.Roots {
		walk(root, 0)
	}
	return Data{Headers: headers, Rows: rows}
}
