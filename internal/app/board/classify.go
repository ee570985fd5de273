package board

import (
	"strings"

	"github.com/taskmirror/project/internal/app/tasks"
)

// Classification is the derived (priority, status, label) triple for a card
// based on its containing list.
type Classification struct {
	Priority tasks.Priority
	Status   tasks.Status
	Label    string
}

// Classify maps a containing-list name to a classification. It is total:
// any input, including empty or whitespace-only names, yields a value from
// the closed priority/status space. The prior priority is only consulted for
// done lists, which carry no priority information of their own. Board names
// observed in the wild come in English and German; both are accepted.
func Classify(listName string, prior tasks.Priority) Classification {
	name := strings.TrimSpace(listName)
	lower := strings.ToLower(name)

	switch {
	case name == "Priority 1" || name == "Priorität 1":
		return Classification{tasks.PriorityP1, tasks.StatusInProgress, "high"}
	case name == "Priority 2" || name == "Priorität 2":
		return Classification{tasks.PriorityP2, tasks.StatusOpen, "medium"}
	case name == "Priority 3" || name == "Priorität 3":
		return Classification{tasks.PriorityP3, tasks.StatusOpen, "low"}
	case name == "Done" || name == "Erledigt":
		p := ClampPriority(prior)
		return Classification{p, tasks.StatusDone, labelForPriority(p)}
	case strings.Contains(lower, "high") || strings.Contains(lower, "hoch"):
		return Classification{tasks.PriorityP1, tasks.StatusOpen, "high"}
	case strings.Contains(lower, "low") || strings.Contains(lower, "niedrig"):
		return Classification{tasks.PriorityP3, tasks.StatusOpen, "low"}
	default:
		return Classification{tasks.PriorityP2, tasks.StatusOpen, "medium"}
	}
}

// ClassifyLabel maps an upstream label name to the local label tag. Labels
// are an urgency signal orthogonal to list-derived priority and never touch
// priority or status.
func ClassifyLabel(labelName string) string {
	name := strings.TrimSpace(labelName)
	switch strings.ToLower(name) {
	case "urgent":
		return "Urgent"
	case "medium":
		return "Medium"
	case "open":
		return "Open"
	default:
		return name
	}
}

// ClampPriority forces malformed priority values to the safe middle. A task
// parked in P2 is recoverable; a failed sync is not.
func ClampPriority(p tasks.Priority) tasks.Priority {
	if tasks.ValidPriority(p) {
		return p
	}
	return tasks.PriorityP2
}

func labelForPriority(p tasks.Priority) string {
	switch p {
	case tasks.PriorityP1:
		return "high"
	case tasks.PriorityP3:
		return "low"
	default:
		return "medium"
	}
}
