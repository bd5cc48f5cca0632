package imaging

import "testing"

func TestComposite(t *testing.T) {
	// Channel 1 bright on the left, channel 2 bright on the right.
	s := newTestStack(t, 4, 2, 2, 1, 1, 8, func(c, z, tt, x, y int) float64 {
		if (c == 1) == (x < 2) {
			return 200
		}
		return 0
	})

	img, err := Composite(s, 1, 1, []string{"#FF0000", "#00FF00"})
	if err != nil {
		t.Fatalf("Composite failed: %v", err)
	}

	left := img.RGBAAt(0, 0)
	if left.R < 250 || left.G > 5 || left.B > 5 {
		t.Errorf("left pixel should be red, got %+v", left)
	}
	right := img.RGBAAt(3, 1)
	if right.G < 250 || right.R > 5 || right.B > 5 {
		t.Errorf("right pixel should be green, got %+v", right)
	}
	if left.A != 255 {
		t.Errorf("alpha: got %d, want 255", left.A)
	}
}

func TestComposite_DefaultColors(t *testing.T) {
	s := newTestStack(t, 2, 2, 3, 1, 1, 8, func(c, z, tt, x, y int) float64 {
		return float64(x * 100)
	})

	img, err := Composite(s, 1, 1, nil)
	if err != nil {
		t.Fatalf("Composite failed: %v", err)
	}
	// Red, green and blue at full intensity add up to white.
	px := img.RGBAAt(1, 0)
	if px.R < 250 || px.G < 250 || px.B < 250 {
		t.Errorf("expected white, got %+v", px)
	}
}

func TestComposite_BadColor(t *testing.T) {
	s := newTestStack(t, 2, 2, 1, 1, 1, 8, func(c, z, tt, x, y int) float64 { return 1 })
	if _, err := Composite(s, 1, 1, []string{"not-a-colour"}); err == nil {
		t.Error("Composite should fail for an invalid colour")
	}
}
