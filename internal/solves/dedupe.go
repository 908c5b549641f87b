package solves

import "strings"

// UniqueTitles collapses submissions to their distinct titles, first
// occurrence wins. Blank titles are dropped.
func UniqueTitles(subs []Submission) []string {
	titles := make([]string, 0, len(subs))
	for _, s := range subs {
		titles = append(titles, s.Title)
	}
	return MergeTitles(nil, titles)
}

// MergeTitles appends the titles of incoming not already present in
// existing. The result never contains duplicates and keeps first-seen order.
func MergeTitles(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, group := range [][]string{existing, incoming} {
		for _, title := range group {
			if strings.TrimSpace(title) == "" {
				continue
			}
			if _, dup := seen[title]; dup {
				continue
			}
			seen[title] = struct{}{}
			out = append(out, title)
		}
	}
	return out
}
