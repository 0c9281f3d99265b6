package consensus

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rawblock/urlscan-engine/pkg/models"
)

// buildPrompt renders the scan evidence the models judge: URL identity,
// reachability, scoring state, the top findings by points, the TI sweep
// summary, and the per-category breakdown.
func buildPrompt(ev *Evidence, maxFindings int) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "URL: %s\n", ev.URL.Canonical)
	fmt.Fprintf(&sb, "Domain: %s (TLD .%s", ev.URL.Domain, ev.URL.TLD)
	if ev.URL.Subdomain != "" {
		fmt.Fprintf(&sb, ", subdomain %s", ev.URL.Subdomain)
	}
	sb.WriteString(")\n")
	fmt.Fprintf(&sb, "Reachability: %s, pipeline %s\n", ev.Reachability, ev.Pipeline)
	fmt.Fprintf(&sb, "Heuristic score: %.0f of %.0f\n\n", ev.BaseScore, ev.ActiveMaxScore)

	findings := topFindings(ev.Categories, maxFindings)
	if len(findings) > 0 {
		sb.WriteString("Top findings:\n")
		for _, f := range findings {
			fmt.Fprintf(&sb, "- [%s, %.0f pts] %s: %s\n", f.Severity, f.Score, f.CheckName, f.Message)
		}
		sb.WriteString("\n")
	}

	if ti := ev.TILayer; ti != nil {
		fmt.Fprintf(&sb, "Threat intelligence: %d malicious / %d suspicious / %d safe / %d errored",
			ti.MaliciousCount, ti.SuspiciousCount, ti.SafeCount, ti.ErrorCount)
		var flagged []string
		for _, sr := range ti.Sources {
			if sr.Verdict == models.TIVerdictMalicious {
				flagged = append(flagged, sr.Source)
			}
		}
		if len(flagged) > 0 {
			fmt.Fprintf(&sb, " (flagged by %s)", strings.Join(flagged, ", "))
		}
		sb.WriteString("\n\n")
	}

	sb.WriteString("Categories:\n")
	for _, c := range ev.Categories {
		if c.Meta.Skipped {
			continue
		}
		pct := 0.0
		if c.MaxWeight > 0 {
			pct = 100 * c.Score / c.MaxWeight
		}
		fmt.Fprintf(&sb, "- %s: %.0f/%.0f (%.0f%%)\n", c.Name, c.Score, c.MaxWeight, pct)
	}
	return sb.String()
}

// topFindings flattens category findings and keeps the heaviest.
func topFindings(categories []models.CategoryResult, limit int) []models.Finding {
	var all []models.Finding
	for _, c := range categories {
		all = append(all, c.Findings...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}
