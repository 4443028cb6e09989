package matcher

import (
	"testing"

	"github.com/example/journey-matching/internal/models"
)

func TestScore(t *testing.T) {
	cases := []struct {
		name             string
		start, end, maxR float64
		want             int
	}{
		{"both legs zero", 0, 0, 5, 100},
		{"worked example", 1.2, 0.8, 5, 90},
		{"legs at radius", 5, 5, 5, 50},
		{"legs at twice radius", 10, 10, 5, 0},
		{"clamped below zero", 30, 30, 5, 0},
		{"rounds half up", 0.1, 0, 1, 98},
		{"zero radius", 0, 0, 0, 0},
	}
	for _, c := range cases {
		if got := Score(c.start, c.end, c.maxR); got != c.want {
			t.Errorf("%s: Score(%v, %v, %v) = %d, want %d", c.name, c.start, c.end, c.maxR, got, c.want)
		}
	}
}

func TestScoreMonotonic(t *testing.T) {
	prev := 101
	for sum := 0.0; sum <= 25; sum += 0.25 {
		got := Score(sum/2, sum/2, 5)
		if got > prev {
			t.Fatalf("score increased at sum=%v: %d > %d", sum, got, prev)
		}
		if got < 0 || got > 100 {
			t.Fatalf("score out of range at sum=%v: %d", sum, got)
		}
		prev = got
	}
}

func TestAcceptInclusiveBoundary(t *testing.T) {
	if !Accept(5, 5, 5) {
		t.Fatal("legs equal to the radius must be accepted")
	}
	if Accept(5.1, 1.0, 5) {
		t.Fatal("start leg over radius must be rejected")
	}
	if Accept(1.0, 5.1, 5) {
		t.Fatal("end leg over radius must be rejected")
	}
}

func TestMergeDedupAndTag(t *testing.T) {
	same := []models.Journey{{ID: 1}, {ID: 2}}
	reverse := []models.Journey{{ID: 2}, {ID: 3}, {ID: 3}}
	got := Merge(same, reverse)
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(got))
	}
	want := []struct {
		id       int64
		reversed bool
	}{{1, false}, {2, false}, {3, true}}
	for i, w := range want {
		if got[i].ID != w.id || got[i].Reversed != w.reversed {
			t.Errorf("candidate %d = {%d %v}, want {%d %v}", i, got[i].ID, got[i].Reversed, w.id, w.reversed)
		}
	}
}

func TestMergeEmpty(t *testing.T) {
	if got := Merge(nil, nil); len(got) != 0 {
		t.Fatalf("expected no candidates, got %d", len(got))
	}
}

func TestLegsByOrientation(t *testing.T) {
	req := models.Journey{Origin: models.Coord{Lat: 1}, Destination: models.Coord{Lat: 2}}
	cand := models.Candidate{Journey: models.Journey{Origin: models.Coord{Lat: 3}, Destination: models.Coord{Lat: 4}}}

	start, end := Legs(req, cand)
	if start[1].Lat != 3 || end[1].Lat != 4 {
		t.Fatalf("same-direction legs wrong: %v %v", start, end)
	}
	cand.Reversed = true
	start, end = Legs(req, cand)
	if start[0].Lat != 1 || start[1].Lat != 4 || end[0].Lat != 2 || end[1].Lat != 3 {
		t.Fatalf("reversed legs wrong: %v %v", start, end)
	}
}
