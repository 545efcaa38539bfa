package coordinator

import (
	"context"
	"strings"
	"testing"

	"github.com/Ademan/pgtx/pkg/client"
	"github.com/Ademan/pgtx/pkg/session/sessiontest"
)

func newParticipant(t *testing.T, srv *sessiontest.Server, name, value string) Participant {
	t.Helper()
	conn, err := client.NewConnection(context.Background(), srv.Session())
	if err != nil {
		t.Fatalf("NewConnection failed: %v", err)
	}
	return Participant{
		Name: name,
		Conn: conn,
		Work: func(ctx context.Context, cur *client.Cursor) error {
			return cur.Execute(ctx, "INSERT INTO accounts VALUES ('"+value+"')")
		},
	}
}

func TestExecuteCommitsAllBranches(t *testing.T) {
	left := sessiontest.NewServer("left")
	right := sessiontest.NewServer("right")
	ctx := context.Background()

	coord := New(1,
		newParticipant(t, left, "left", "debit"),
		newParticipant(t, right, "right", "credit"))

	res, err := coord.Execute(ctx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !res.Committed {
		t.Fatalf("Expected the transaction to commit, got %+v", res)
	}
	if len(res.Branches) != 2 {
		t.Fatalf("Expected 2 branches, got %d", len(res.Branches))
	}

	if got := left.Committed(); len(got) != 1 || got[0] != "debit" {
		t.Errorf("Expected the left effect committed, got %v", got)
	}
	if got := right.Committed(); len(got) != 1 || got[0] != "credit" {
		t.Errorf("Expected the right effect committed, got %v", got)
	}
	if left.PreparedCount() != 0 || right.PreparedCount() != 0 {
		t.Error("Expected no prepared xacts left behind")
	}
}

func TestBranchesShareGtrid(t *testing.T) {
	left := sessiontest.NewServer("left")
	right := sessiontest.NewServer("right")

	coord := New(7,
		newParticipant(t, left, "left", "debit"),
		newParticipant(t, right, "right", "credit"))

	res, err := coord.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	for _, b := range res.Branches {
		if b.Xid.FormatID != 7 {
			t.Errorf("Expected format ID 7, got %d", b.Xid.FormatID)
		}
		if b.Xid.Gtrid != res.Gtrid {
			t.Errorf("Expected branch gtrid %q, got %q", res.Gtrid, b.Xid.Gtrid)
		}
	}
	if res.Branches[0].Xid.Bqual == res.Branches[1].Xid.Bqual {
		t.Error("Expected distinct branch qualifiers")
	}
}

func TestPrepareFailureRollsBackAll(t *testing.T) {
	left := sessiontest.NewServer("left")
	right := sessiontest.NewServer("right")
	right.MaxPrepared = 0
	ctx := context.Background()

	coord := New(1,
		newParticipant(t, left, "left", "debit"),
		newParticipant(t, right, "right", "credit"))

	res, err := coord.Execute(ctx)
	if err == nil {
		t.Fatal("Expected the failed prepare to surface")
	}
	if !strings.Contains(err.Error(), "right") {
		t.Errorf("Expected the failing branch named, got %v", err)
	}
	if res.Committed {
		t.Error("Expected the transaction not to commit")
	}

	if len(left.Committed()) != 0 || len(right.Committed()) != 0 {
		t.Errorf("Expected no effects, got %v and %v", left.Committed(), right.Committed())
	}
	if left.PreparedCount() != 0 || right.PreparedCount() != 0 {
		t.Error("Expected no prepared xacts left behind")
	}
	for _, b := range res.Branches {
		if conn := coord.connOf(b.Name); conn.Status() != client.StatusReady {
			t.Errorf("Expected branch %s back to READY, got %s", b.Name, conn.Status())
		}
	}
}

func TestWorkFailureRollsBack(t *testing.T) {
	left := sessiontest.NewServer("left")
	right := sessiontest.NewServer("right")
	ctx := context.Background()

	bad := newParticipant(t, right, "right", "credit")
	bad.Work = func(ctx context.Context, cur *client.Cursor) error {
		return cur.Execute(ctx, "SELECT broken")
	}

	coord := New(1, newParticipant(t, left, "left", "debit"), bad)

	if _, err := coord.Execute(ctx); err == nil {
		t.Fatal("Expected the failed work to surface")
	}
	if len(left.Committed()) != 0 || len(right.Committed()) != 0 {
		t.Errorf("Expected no effects, got %v and %v", left.Committed(), right.Committed())
	}
}

func TestExecuteWithoutParticipants(t *testing.T) {
	if _, err := New(1).Execute(context.Background()); err == nil {
		t.Error("Expected an error with no participants")
	}
}
