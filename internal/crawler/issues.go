package crawler

import (
	"fmt"
	"sort"

	"seopulse/internal/types"
)

// TopIssueCount is the length of a report's top-issues list.
const TopIssueCount = 10

func issue(p Page, code string, cat types.IssueCategory, sev types.IssueSeverity, detail string) types.CrawlIssue {
	return types.CrawlIssue{URL: p.URL, Code: code, Category: cat, Severity: sev, Detail: detail}
}

// Inspect returns the issues found on one page. referrer is the page that
// linked to it, empty for the seed.
func Inspect(p Page, referrer string) []types.CrawlIssue {
	var out []types.CrawlIssue
	switch {
	case p.Error != "":
		return append(out, issue(p, "fetch_failed", types.CategoryStatus, types.IssueCritical, p.Error))
	case p.Status >= 500:
		return append(out, issue(p, "server_error", types.CategoryStatus, types.IssueCritical, fmt.Sprintf("HTTP %d", p.Status)))
	case p.Status >= 400:
		out = append(out, issue(p, "client_error", types.CategoryStatus, types.IssueCritical, fmt.Sprintf("HTTP %d", p.Status)))
		if referrer != "" {
			out = append(out, issue(p, "broken_internal_link", types.CategoryLinks, types.IssueWarning, "linked from "+referrer))
		}
		return out
	}
	if p.Status != 200 {
		return out
	}

	if p.Elapsed > slowResponse {
		out = append(out, issue(p, "slow_response", types.CategoryStatus, types.IssueWarning, p.Elapsed.String()))
	}

	switch n := len([]rune(p.Title)); {
	case n == 0:
		out = append(out, issue(p, "missing_title", types.CategoryMeta, types.IssueCritical, ""))
	case n < 10:
		out = append(out, issue(p, "title_too_short", types.CategoryMeta, types.IssueWarning, p.Title))
	case n > 60:
		out = append(out, issue(p, "title_too_long", types.CategoryMeta, types.IssueNotice, fmt.Sprintf("%d characters", n)))
	}
	switch n := len([]rune(p.MetaDescription)); {
	case n == 0:
		out = append(out, issue(p, "missing_meta_description", types.CategoryMeta, types.IssueWarning, ""))
	case n > 160:
		out = append(out, issue(p, "meta_description_too_long", types.CategoryMeta, types.IssueNotice, fmt.Sprintf("%d characters", n)))
	}

	switch {
	case p.H1Count == 0:
		out = append(out, issue(p, "missing_h1", types.CategoryContent, types.IssueWarning, ""))
	case p.H1Count > 1:
		out = append(out, issue(p, "multiple_h1", types.CategoryContent, types.IssueNotice, fmt.Sprintf("%d h1 elements", p.H1Count)))
	}
	if p.WordCount < 300 {
		out = append(out, issue(p, "thin_content", types.CategoryContent, types.IssueNotice, fmt.Sprintf("%d words", p.WordCount)))
	}
	if p.ImagesNoAlt > 0 {
		out = append(out, issue(p, "image_missing_alt", types.CategoryContent, types.IssueWarning, fmt.Sprintf("%d images", p.ImagesNoAlt)))
	}

	if p.NoIndex {
		out = append(out, issue(p, "noindex", types.CategoryIndexing, types.IssueWarning, ""))
	}
	if p.Canonical == "" {
		out = append(out, issue(p, "missing_canonical", types.CategoryIndexing, types.IssueNotice, ""))
	}
	return out
}

// Summary aggregates issues for a report.
type Summary struct {
	Total      int
	BySeverity map[types.IssueSeverity]int
	ByCategory map[types.IssueCategory]int
	TopIssues  []types.IssueSummary
}

// Summarize totals issues and ranks issue codes by severity, then by count,
// then by code.
func Summarize(issues []types.CrawlIssue) Summary {
	s := Summary{
		Total:      len(issues),
		BySeverity: map[types.IssueSeverity]int{},
		ByCategory: map[types.IssueCategory]int{},
	}
	byCode := map[string]*types.IssueSummary{}
	for _, is := range issues {
		s.BySeverity[is.Severity]++
		s.ByCategory[is.Category]++
		agg, ok := byCode[is.Code]
		if !ok {
			agg = &types.IssueSummary{Code: is.Code, Category: is.Category, Severity: is.Severity}
			byCode[is.Code] = agg
		}
		agg.Count++
	}

	for _, agg := range byCode {
		s.TopIssues = append(s.TopIssues, *agg)
	}
	sort.Slice(s.TopIssues, func(i, j int) bool {
		a, b := s.TopIssues[i], s.TopIssues[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Code < b.Code
	})
	if len(s.TopIssues) > TopIssueCount {
		s.TopIssues = s.TopIssues[:TopIssueCount]
	}
	return s
}
