package board

import (
	"testing"

	"github.com/taskmirror/project/internal/app/tasks"
)

func TestClassify_ListRules(t *testing.T) {
	cases := []struct {
		list     string
		prior    tasks.Priority
		priority tasks.Priority
		status   tasks.Status
		label    string
	}{
		{"Priority 1", tasks.PriorityP2, tasks.PriorityP1, tasks.StatusInProgress, "high"},
		{"Priorität 1", tasks.PriorityP2, tasks.PriorityP1, tasks.StatusInProgress, "high"},
		{"Priority 2", tasks.PriorityP1, tasks.PriorityP2, tasks.StatusOpen, "medium"},
		{"Priority 3", tasks.PriorityP1, tasks.PriorityP3, tasks.StatusOpen, "low"},
		{"Done", tasks.PriorityP1, tasks.PriorityP1, tasks.StatusDone, "high"},
		{"Erledigt", tasks.PriorityP3, tasks.PriorityP3, tasks.StatusDone, "low"},
		{"Super high stuff", tasks.PriorityP2, tasks.PriorityP1, tasks.StatusOpen, "high"},
		{"hoch wichtig", tasks.PriorityP2, tasks.PriorityP1, tasks.StatusOpen, "high"},
		{"low effort", tasks.PriorityP2, tasks.PriorityP3, tasks.StatusOpen, "low"},
		{"niedrig", tasks.PriorityP2, tasks.PriorityP3, tasks.StatusOpen, "low"},
		{"Backlog", tasks.PriorityP1, tasks.PriorityP2, tasks.StatusOpen, "medium"},
		{UnknownList, tasks.PriorityP1, tasks.PriorityP2, tasks.StatusOpen, "medium"},
	}

	for _, tc := range cases {
		got := Classify(tc.list, tc.prior)
		if got.Priority != tc.priority || got.Status != tc.status || got.Label != tc.label {
			t.Errorf("Classify(%q, %s) = %+v, want {%s %s %s}",
				tc.list, tc.prior, got, tc.priority, tc.status, tc.label)
		}
	}
}

func TestClassify_Total(t *testing.T) {
	for _, list := range []string{"", "   ", "\t\n", "🤷", "done"} {
		got := Classify(list, tasks.Priority("bogus"))
		if !tasks.ValidPriority(got.Priority) {
			t.Errorf("Classify(%q) produced invalid priority %q", list, got.Priority)
		}
		if !tasks.ValidStatus(got.Status) {
			t.Errorf("Classify(%q) produced invalid status %q", list, got.Status)
		}
	}
}

func TestClassify_DoneClampsBogusPrior(t *testing.T) {
	got := Classify("Done", tasks.Priority("P9"))
	if got.Priority != tasks.PriorityP2 {
		t.Fatalf("expected bogus prior clamped to P2, got %s", got.Priority)
	}
	if got.Status != tasks.StatusDone || got.Label != "medium" {
		t.Fatalf("unexpected classification: %+v", got)
	}
}

func TestClassifyLabel(t *testing.T) {
	cases := map[string]string{
		"urgent":   "Urgent",
		"URGENT":   "Urgent",
		" medium ": "Medium",
		"open":     "Open",
		"review":   "review",
		"":         "",
	}
	for in, want := range cases {
		if got := ClassifyLabel(in); got != want {
			t.Errorf("ClassifyLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
