package task

import (
	"testing"
)

func TestBuildFilterClause(t *testing.T) {
	opts := buildListOptions([]ListOption{
		WithStatuses(StatusFailed, StatusFailed, "bogus", StatusPending),
		WithReplyPresence(false),
		WithQuery("  music "),
	})
	clause, args := buildFilterClause(opts)

	want := "status IN (?,?) AND display_text = '' AND (id LIKE ? OR utterance LIKE ? OR display_text LIKE ? OR error_message LIKE ?)"
	if clause != want {
		t.Fatalf("unexpected clause:\nwant %s\ngot  %s", want, clause)
	}
	if len(args) != 6 || args[0] != "failed" || args[1] != "pending" || args[2] != "%music%" {
		t.Fatalf("unexpected args: %#v", args)
	}

	if clause, args := buildFilterClause(buildListOptions(nil)); clause != "" || args != nil {
		t.Fatalf("expected empty clause, got %q %v", clause, args)
	}
}
