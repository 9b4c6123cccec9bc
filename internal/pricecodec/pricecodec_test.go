package pricecodec

import "testing"

type fakeResolver struct {
	scales map[string]int64
}

func (f fakeResolver) ScaleFactor(symbol string) int64 {
	return f.scales[symbol]
}

func TestScaleDescaleRoundTrip(t *testing.T) {
	t.Parallel()
	c := New(fakeResolver{scales: map[string]int64{"AAA": 100}})

	scaled := c.Scale("AAA", 100.50)
	if scaled != 10050 {
		t.Fatalf("Scale() = %d, want 10050", scaled)
	}

	back := c.Descale("AAA", scaled)
	if diff := back - 100.50; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("Descale() = %v, want ~100.50", back)
	}
}

func TestScaleDefaultsWhenUnregistered(t *testing.T) {
	t.Parallel()
	c := New(fakeResolver{scales: map[string]int64{}})

	if got := c.ScaleFactor("UNKNOWN"); got != DefaultScale {
		t.Fatalf("ScaleFactor() = %d, want default %d", got, DefaultScale)
	}
}

func TestScaleStringExact(t *testing.T) {
	t.Parallel()
	c := New(fakeResolver{scales: map[string]int64{"AAA": 10000}})

	scaled, ok := c.ScaleString("AAA", "0.1234")
	if !ok {
		t.Fatal("ScaleString() failed to parse")
	}
	if scaled != 1234 {
		t.Fatalf("ScaleString() = %d, want 1234", scaled)
	}
}

func TestScaleStringRejectsGarbage(t *testing.T) {
	t.Parallel()
	c := New(fakeResolver{scales: map[string]int64{"AAA": 100}})

	if _, ok := c.ScaleString("AAA", "not-a-number"); ok {
		t.Fatal("ScaleString() should have failed to parse")
	}
}

func TestRoundHalfAwayFromZero(t *testing.T) {
	t.Parallel()
	c := New(fakeResolver{scales: map[string]int64{"AAA": 1}})

	if got := c.Scale("AAA", 0.5); got != 1 {
		t.Fatalf("Scale(0.5) = %d, want 1", got)
	}
	if got := c.Scale("AAA", -0.5); got != -1 {
		t.Fatalf("Scale(-0.5) = %d, want -1", got)
	}
}
