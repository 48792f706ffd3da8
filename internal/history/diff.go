// Package history renders the change between consecutive entity snapshots
// so reviewers can see what each mutation touched without replaying JSON
// blobs by hand.
package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"webcaf.uk/internal/assessment"
)

// Change is one step in an entity's history with the textual diff against
// the previous snapshot. The first snapshot diffs against nothing.
type Change struct {
	SnapshotID string                `json:"snapshot_id"`
	ChangeType assessment.ChangeType `json:"change_type"`
	ChangedBy  string                `json:"changed_by,omitempty"`
	RecordedAt time.Time             `json:"recorded_at"`
	Diff       string                `json:"diff"`
}

// Changes walks the snapshots in order and produces a diff per step.
// Snapshots must be in recorded order, as returned by Service.History.
func Changes(snaps []assessment.Snapshot) ([]Change, error) {
	out := make([]Change, 0, len(snaps))
	prev := ""
	for _, snap := range snaps {
		cur, err := canonical(snap.State)
		if err != nil {
			return nil, fmt.Errorf("history: snapshot %s: %w", snap.ID, err)
		}
		out = append(out, Change{
			SnapshotID: snap.ID,
			ChangeType: snap.ChangeType,
			ChangedBy:  snap.ChangedBy,
			RecordedAt: snap.RecordedAt,
			Diff:       Render(prev, cur),
		})
		prev = cur
	}
	return out, nil
}

// Render produces a compact line diff between two texts. Equal runs are
// elided; identical inputs render as an empty diff.
func Render(before, after string) string {
	if before == after {
		return ""
	}
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var out strings.Builder
	for _, d := range diffs {
		prefix := ""
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		default:
			continue
		}
		for _, line := range strings.Split(strings.TrimRight(d.Text, "\n"), "\n") {
			out.WriteString(prefix)
			out.WriteString(line)
			out.WriteString("\n")
		}
	}
	return out.String()
}

// canonical pretty-prints a snapshot's state with stable key order so the
// diff reflects content changes, not encoding noise.
func canonical(state []byte) (string, error) {
	if len(state) == 0 {
		return "", nil
	}
	var doc any
	if err := json.Unmarshal(state, &doc); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}
