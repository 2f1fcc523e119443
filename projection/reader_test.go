package projection_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ripkitten-co/prowl/eventlog"
	"github.com/ripkitten-co/prowl/projection"
)

func drain(t *testing.T, r *projection.MergedReader) []string {
	t.Helper()
	var out []string
	for {
		evt, ok, err := r.Next(context.Background())
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			return out
		}
		out = append(out, fmt.Sprintf("%s@%d", evt.StreamID, evt.Number))
	}
}

func TestMergedReader_OrdersByNumberThenRegistration(t *testing.T) {
	log := eventlog.NewMemory()
	seed(t, log, "a", "E", "E", "E")
	seed(t, log, "b", "E", "E")

	for _, loadCount := range []int{0, 1, 2, 1000} {
		t.Run(fmt.Sprintf("load %d", loadCount), func(t *testing.T) {
			pos := projection.NewPositionMap()
			pos.Merge([]string{"b", "a"})

			got := drain(t, projection.NewMergedReader(log, pos, loadCount, nil))
			want := []string{"b@1", "a@1", "b@2", "a@2", "a@3"}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("order (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMergedReader_StartsAfterPosition(t *testing.T) {
	log := eventlog.NewMemory()
	seed(t, log, "a", "E", "E", "E")
	seed(t, log, "b", "E", "E")

	pos := projection.NewPositionMap()
	pos.Merge([]string{"a", "b"})
	pos.Set("a", 2)
	pos.Set("b", 2)

	got := drain(t, projection.NewMergedReader(log, pos, 10, nil))
	if diff := cmp.Diff([]string{"a@3"}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestMergedReader_SkipsMissingStreams(t *testing.T) {
	log := eventlog.NewMemory()
	seed(t, log, "a", "E")

	pos := projection.NewPositionMap()
	pos.Merge([]string{"ghost", "a"})

	got := drain(t, projection.NewMergedReader(log, pos, 10, nil))
	if diff := cmp.Diff([]string{"a@1"}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestMergedReader_AppliesMatcher(t *testing.T) {
	log := eventlog.NewMemory()
	seed(t, log, "a", "UserCreated", "UsernameChanged", "UsernameChanged")

	pos := projection.NewPositionMap()
	pos.Merge([]string{"a"})
	m := eventlog.NewMatcher().WithProperty(eventlog.PropertyType, eventlog.OpEquals, "UsernameChanged")

	got := drain(t, projection.NewMergedReader(log, pos, 1, m))
	if diff := cmp.Diff([]string{"a@2", "a@3"}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}
