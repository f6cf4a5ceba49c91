package types

import (
	"testing"
	"time"
)

func TestParseIssueStatus(t *testing.T) {
	cases := []struct {
		raw  string
		want IssueStatus
	}{
		{"created", StatusCreated},
		{"pending", StatusCreated},
		{"Open", StatusCreated},
		{"in_progress", StatusInProgress},
		{"In Progress", StatusInProgress},
		{"in-progress", StatusInProgress},
		{"resolved", StatusCompleted},
		{"COMPLETED", StatusCompleted},
		{"escalated", StatusEscalated},
		{" closed ", StatusClosed},
	}
	for _, tc := range cases {
		got, ok := ParseIssueStatus(tc.raw)
		if !ok || got != tc.want {
			t.Fatalf("ParseIssueStatus(%q) = %q, %v; want %q", tc.raw, got, ok, tc.want)
		}
	}

	for _, raw := range []string{"", "done", "wip", "cancelled"} {
		if got, ok := ParseIssueStatus(raw); ok {
			t.Fatalf("ParseIssueStatus(%q) = %q, want rejection", raw, got)
		}
	}
}

func TestParseIssuePriority(t *testing.T) {
	cases := []struct {
		raw  string
		want IssuePriority
	}{
		{"low", PriorityLow},
		{"Medium", PriorityMedium},
		{"HIGH", PriorityHigh},
		{"urgent", PriorityUrgent},
		{"critical", PriorityUrgent},
	}
	for _, tc := range cases {
		got, ok := ParseIssuePriority(tc.raw)
		if !ok || got != tc.want {
			t.Fatalf("ParseIssuePriority(%q) = %q, %v; want %q", tc.raw, got, ok, tc.want)
		}
	}
	if _, ok := ParseIssuePriority("whenever"); ok {
		t.Fatal("expected unknown priority to be rejected")
	}
}

func TestParseRole(t *testing.T) {
	cases := []struct {
		raw  string
		want Role
	}{
		{"citizen", RoleCitizen},
		{"official", RoleOfficial},
		{"higher_official", RoleHigherOfficial},
		{"higherofficial", RoleHigherOfficial},
	}
	for _, tc := range cases {
		got, ok := ParseRole(tc.raw)
		if !ok || got != tc.want {
			t.Fatalf("ParseRole(%q) = %q, %v; want %q", tc.raw, got, ok, tc.want)
		}
	}
	if _, ok := ParseRole("admin"); ok {
		t.Fatal("expected unknown role to be rejected")
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []IssueStatus{StatusCompleted, StatusRejected, StatusClosed} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []IssueStatus{StatusCreated, StatusAssigned, StatusInProgress, StatusEscalated} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestRankOrdersAreTotal(t *testing.T) {
	if len(StatusRank) != len(StatusOrder) {
		t.Fatalf("StatusRank has %d entries, want %d", len(StatusRank), len(StatusOrder))
	}
	if StatusRank[StatusEscalated] != 0 {
		t.Fatalf("escalated should sort first, got rank %d", StatusRank[StatusEscalated])
	}
	if len(PriorityRank) != len(PriorityOrder) {
		t.Fatalf("PriorityRank has %d entries, want %d", len(PriorityRank), len(PriorityOrder))
	}
	if PriorityRank[PriorityUrgent] >= PriorityRank[PriorityLow] {
		t.Fatal("urgent should rank before low")
	}
}

func TestIssueAge(t *testing.T) {
	now := time.Now()
	issue := Issue{CreatedAt: now.Add(-48 * time.Hour)}
	if got := issue.Age(now); got != 48*time.Hour {
		t.Fatalf("Age = %v, want 48h", got)
	}
}
