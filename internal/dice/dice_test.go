package dice

import (
	"errors"
	"math/rand"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		notation string
		count    int
		sides    int
		modifier int
		wantErr  error
	}{
		{notation: "2d6+3", count: 2, sides: 6, modifier: 3},
		{notation: "d20", count: 1, sides: 20, modifier: 0},
		{notation: "1d100", count: 1, sides: 100, modifier: 0},
		{notation: "3d8-1", count: 3, sides: 8, modifier: -1},
		{notation: " 2D6+3 ", count: 2, sides: 6, modifier: 3},
		{notation: "100d2", count: 100, sides: 2, modifier: 0},
		{notation: "", wantErr: ErrInvalidNotation},
		{notation: "2d", wantErr: ErrInvalidNotation},
		{notation: "d", wantErr: ErrInvalidNotation},
		{notation: "2x6", wantErr: ErrInvalidNotation},
		{notation: "2d6+", wantErr: ErrInvalidNotation},
		{notation: "-1d6", wantErr: ErrInvalidNotation},
		{notation: "0d6", wantErr: ErrCountOutOfRange},
		{notation: "101d6", wantErr: ErrCountOutOfRange},
		{notation: "2d1", wantErr: ErrSidesOutOfRange},
		{notation: "2d1001", wantErr: ErrSidesOutOfRange},
	}
	for _, tc := range cases {
		count, sides, modifier, err := Parse(tc.notation)
		if tc.wantErr != nil {
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Parse(%q) err = %v, want %v", tc.notation, err, tc.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q) unexpected error: %v", tc.notation, err)
			continue
		}
		if count != tc.count || sides != tc.sides || modifier != tc.modifier {
			t.Errorf("Parse(%q) = (%d,%d,%d), want (%d,%d,%d)",
				tc.notation, count, sides, modifier, tc.count, tc.sides, tc.modifier)
		}
	}
}

func TestNewRollBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		r, err := New(rng, "2d6+3")
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if len(r.Results) != 2 {
			t.Fatalf("len(Results) = %d, want 2", len(r.Results))
		}
		sum := 0
		for _, v := range r.Results {
			if v < 1 || v > 6 {
				t.Fatalf("die result %d out of range", v)
			}
			sum += v
		}
		if r.Total != sum+3 {
			t.Fatalf("Total = %d, want %d", r.Total, sum+3)
		}
		if r.Total < 5 || r.Total > 15 {
			t.Fatalf("Total %d outside [5,15]", r.Total)
		}
	}
}

func TestNewDeterministicWithSeed(t *testing.T) {
	a, err := New(rand.New(rand.NewSource(42)), "10d20+5")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(rand.New(rand.NewSource(42)), "10d20+5")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Total != b.Total {
		t.Fatalf("same seed gave totals %d and %d", a.Total, b.Total)
	}
	for i := range a.Results {
		if a.Results[i] != b.Results[i] {
			t.Fatalf("same seed diverged at die %d: %d vs %d", i, a.Results[i], b.Results[i])
		}
	}
}

func TestVerify(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	r, err := New(rng, "4d10-2")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !Verify(r) {
		t.Fatal("fresh roll failed verification")
	}

	tampered := r
	tampered.Total++
	if Verify(tampered) {
		t.Fatal("tampered total passed verification")
	}

	short := r
	short.Results = short.Results[:len(short.Results)-1]
	if Verify(short) {
		t.Fatal("missing die passed verification")
	}

	bad := r
	bad.Results = append([]int(nil), r.Results...)
	bad.Results[0] = 11
	if Verify(bad) {
		t.Fatal("out-of-range die passed verification")
	}
}
