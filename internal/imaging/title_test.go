package imaging

import "testing"

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/data/raw/sample 01.czi", "sample_01"},
		{"C:/scans/experiment - run.czi #3", "experimentrun_Series3"},
		{"a  b", "a_b"},
		{"plain.tif", "plain.tif"},
		{"dir/", ""},
		{"", ""},
		{"well#12", "wellSeries12"},
	}
	for _, tt := range tests {
		if got := SanitizeTitle(tt.in); got != tt.want {
			t.Errorf("SanitizeTitle(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStack_SanitizeTitle(t *testing.T) {
	s := newTestStack(t, 1, 1, 1, 1, 1, 8, func(c, z, tt, x, y int) float64 { return 0 })
	s.Title = "/tmp/My Image.czi"
	s.SanitizeTitle()
	if s.Title != "My_Image" {
		t.Errorf("Title: got %q, want My_Image", s.Title)
	}
}
