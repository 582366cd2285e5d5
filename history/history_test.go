package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestStore_RecordAndList(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	at := time.Unix(1700000000, 0)
	entries := []Entry{
		{Time: at, Script: "1+1", Result: "2", Duration: 3 * time.Millisecond},
		{Time: at.Add(time.Second), Script: "Log(", Code: 5, Message: "Parse error"},
		{Script: "GetPlayerCount()", Result: "1"},
	}
	for _, e := range entries {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	n, err := s.Count(ctx)
	if err != nil || n != 3 {
		t.Fatalf("Count = %d, %v", n, err)
	}

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{"all", 10, []string{"GetPlayerCount()", "Log(", "1+1"}},
		{"limited", 2, []string{"GetPlayerCount()", "Log("}},
		{"default limit", 0, []string{"GetPlayerCount()", "Log(", "1+1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.limit)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d entries, want %d", len(got), len(tt.want))
			}
			for i, e := range got {
				if e.Script != tt.want[i] {
					t.Errorf("entry %d script = %q, want %q", i, e.Script, tt.want[i])
				}
			}
		})
	}

	got, _ := s.List(ctx, 10)
	last := got[2]
	if !last.Time.Equal(at) || last.Duration != 3*time.Millisecond || last.Result != "2" || !last.OK() {
		t.Errorf("first entry round trip = %+v", last)
	}
	if got[1].OK() || got[1].Code != 5 {
		t.Errorf("failed entry = %+v", got[1])
	}
	if got[0].Time.IsZero() {
		t.Error("zero time not filled in")
	}
}

func TestStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Record(context.Background(), Entry{Script: "1", Result: "1"}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	n, err := s.Count(context.Background())
	if err != nil || n != 1 {
		t.Errorf("Count = %d, %v", n, err)
	}
}
