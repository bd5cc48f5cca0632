package omero

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Targets are the objects named by a user-supplied link or ID list.
type Targets struct {
	DatasetIDs []int64
	ImageIDs   []int64
}

var targetRe = regexp.MustCompile(`(image|dataset)-(\d+)`)

// isURL also matches https links.
func isURL(input string) bool {
	return strings.HasPrefix(input, "http")
}

// ParseImageIDs splits a web client link or a comma-separated list into
// image IDs.
//
// For a link every "image-" marker starts an ID, which ends at the first
// "%"; "|" separators are dropped. Any other input is split on commas, with
// surrounding whitespace trimmed and empty entries skipped.
func ParseImageIDs(input string) []string {
	input = strings.TrimSpace(input)
	if isURL(input) {
		parts := strings.Split(input, "image-")[1:]
		ids := make([]string, 0, len(parts))
		for _, p := range parts {
			id, _, _ := strings.Cut(p, "%")
			ids = append(ids, strings.ReplaceAll(id, "|", ""))
		}
		return ids
	}

	var ids []string
	for _, p := range strings.Split(input, ",") {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}

// ParseTargets is ParseImageIDs extended to datasets. Links may mix
// "image-<id>" and "dataset-<id>" markers, e.g.
// "https://omero.example.org/webclient/?show=dataset-5|image-12". A
// comma-separated list holds image IDs only.
func ParseTargets(input string) (Targets, error) {
	var t Targets
	input = strings.TrimSpace(input)
	if isURL(input) {
		for _, m := range targetRe.FindAllStringSubmatch(input, -1) {
			id, err := strconv.ParseInt(m[2], 10, 64)
			if err != nil {
				return t, fmt.Errorf("invalid %s id %q: %w", m[1], m[2], err)
			}
			if m[1] == "dataset" {
				t.DatasetIDs = append(t.DatasetIDs, id)
			} else {
				t.ImageIDs = append(t.ImageIDs, id)
			}
		}
		return t, nil
	}

	for _, s := range ParseImageIDs(input) {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return t, fmt.Errorf("invalid image id %q: %w", s, err)
		}
		t.ImageIDs = append(t.ImageIDs, id)
	}
	return t, nil
}
