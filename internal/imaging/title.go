package imaging

import "strings"

// SanitizeTitle strips special characters and suffixes from an image title.
//
// Titles sometimes carry the full path of the source file, so only the part
// after the last "/" is kept. Then ".czi" is removed, spaces become "_",
// "_-_" is removed, "__" collapses to "_" and "#" becomes "Series", in that
// order.
func SanitizeTitle(title string) string {
	t := title[strings.LastIndex(title, "/")+1:]
	t = strings.ReplaceAll(t, ".czi", "")
	t = strings.ReplaceAll(t, " ", "_")
	t = strings.ReplaceAll(t, "_-_", "")
	t = strings.ReplaceAll(t, "__", "_")
	t = strings.ReplaceAll(t, "#", "Series")
	return t
}

// SanitizeTitle renames the stack in place with SanitizeTitle.
func (s *Stack) SanitizeTitle() {
	s.Title = SanitizeTitle(s.Title)
}
