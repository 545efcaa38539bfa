// Package coordinator drives a two-phase commit across several database
// connections acting as transaction branches.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/Ademan/pgtx/pkg/client"
	"github.com/Ademan/pgtx/pkg/xid"
)

// Work runs one branch's statements inside its transaction.
type Work func(ctx context.Context, cur *client.Cursor) error

// Participant is one branch of a distributed transaction.
type Participant struct {
	Name string
	Conn *client.Connection
	Work Work
}

// Coordinator manages the 2PC protocol from the application's perspective.
type Coordinator struct {
	formatID     int64
	participants []Participant
	mu           sync.Mutex
}

// New creates a coordinator stamping every transaction with formatID.
func New(formatID int64, participants ...Participant) *Coordinator {
	return &Coordinator{
		formatID:     formatID,
		participants: participants,
	}
}

// BranchResult holds the outcome of one phase on one participant.
type BranchResult struct {
	Name    string
	Xid     xid.Xid
	Success bool
	Error   error
}

// Result is the overall outcome of a distributed transaction.
type Result struct {
	Gtrid     string
	Committed bool
	Branches  []BranchResult
}

// Execute runs the 2PC protocol once across all participants. The
// transaction commits only if every branch prepares successfully; any
// failure rolls back every branch.
func (c *Coordinator) Execute(ctx context.Context) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.participants) == 0 {
		return nil, fmt.Errorf("no participants available")
	}

	gtrid := uuid.New().String()
	log.Printf("[Coordinator] Starting 2PC for transaction %s", gtrid)

	branches, err := c.beginAll(ctx, gtrid)
	if err != nil {
		c.rollbackAll(ctx, branches)
		return &Result{Gtrid: gtrid, Branches: branches}, err
	}

	// Phase 1: prepare every branch.
	prepared := c.preparePhase(ctx, branches)

	allReady := true
	var failed []string
	for _, r := range prepared {
		if !r.Success {
			allReady = false
			failed = append(failed, r.Name)
			if r.Error != nil {
				log.Printf("[Coordinator] Prepare failed for %s: %v", r.Name, r.Error)
			}
		}
	}

	// Phase 2: commit, or roll back every branch.
	if !allReady {
		log.Printf("[Coordinator] Prepare failed for branches %v, aborting transaction %s", failed, gtrid)
		c.rollbackAll(ctx, prepared)
		return &Result{Gtrid: gtrid, Branches: prepared},
			fmt.Errorf("prepare failed for branches: %v", failed)
	}

	log.Printf("[Coordinator] All branches ready, committing transaction %s", gtrid)
	committed := c.commitPhase(ctx, prepared)
	for _, r := range committed {
		if !r.Success {
			log.Printf("[Coordinator] Commit failed for %s: %v", r.Name, r.Error)
			return &Result{Gtrid: gtrid, Branches: committed},
				fmt.Errorf("commit failed for branch %s: %w", r.Name, r.Error)
		}
	}

	return &Result{Gtrid: gtrid, Committed: true, Branches: committed}, nil
}

// beginAll opens a transaction branch on every participant and runs its
// work. Branches that were begun are returned even on failure so the caller
// can roll them back.
func (c *Coordinator) beginAll(ctx context.Context, gtrid string) ([]BranchResult, error) {
	branches := make([]BranchResult, 0, len(c.participants))
	for _, p := range c.participants {
		x, err := xid.New(c.formatID, gtrid, uuid.New().String())
		if err != nil {
			return branches, err
		}
		if err := p.Conn.TpcBegin(ctx, x); err != nil {
			return branches, fmt.Errorf("begin failed for branch %s: %w", p.Name, err)
		}
		branches = append(branches, BranchResult{Name: p.Name, Xid: x, Success: true})

		if p.Work != nil {
			cur, err := p.Conn.Cursor()
			if err != nil {
				return branches, err
			}
			if err := p.Work(ctx, cur); err != nil {
				return branches, fmt.Errorf("work failed for branch %s: %w", p.Name, err)
			}
			cur.Close()
		}
	}
	return branches, nil
}

// preparePhase prepares all branches concurrently.
func (c *Coordinator) preparePhase(ctx context.Context, branches []BranchResult) []BranchResult {
	results := make([]BranchResult, len(branches))
	var wg sync.WaitGroup
	wg.Add(len(branches))

	for i, b := range branches {
		idx := i
		branch := b
		go func() {
			defer wg.Done()
			err := c.connOf(branch.Name).TpcPrepare(ctx)
			results[idx] = BranchResult{
				Name:    branch.Name,
				Xid:     branch.Xid,
				Success: err == nil,
				Error:   err,
			}
		}()
	}

	wg.Wait()
	return results
}

// commitPhase commits all prepared branches concurrently.
func (c *Coordinator) commitPhase(ctx context.Context, branches []BranchResult) []BranchResult {
	results := make([]BranchResult, len(branches))
	var wg sync.WaitGroup
	wg.Add(len(branches))

	for i, b := range branches {
		idx := i
		branch := b
		go func() {
			defer wg.Done()
			err := c.connOf(branch.Name).TpcCommit(ctx)
			results[idx] = BranchResult{
				Name:    branch.Name,
				Xid:     branch.Xid,
				Success: err == nil,
				Error:   err,
			}
		}()
	}

	wg.Wait()
	return results
}

// rollbackAll rolls back every begun branch, prepared or not. TpcRollback
// picks the right statement for either state.
func (c *Coordinator) rollbackAll(ctx context.Context, branches []BranchResult) {
	var wg sync.WaitGroup
	wg.Add(len(branches))

	for _, b := range branches {
		branch := b
		go func() {
			defer wg.Done()
			conn := c.connOf(branch.Name)
			if conn.Status() == client.StatusReady {
				return
			}
			if err := conn.TpcRollback(ctx); err != nil {
				log.Printf("[Coordinator] Abort failed for %s: %v", branch.Name, err)
			}
		}()
	}

	wg.Wait()
}

func (c *Coordinator) connOf(name string) *client.Connection {
	for _, p := range c.participants {
		if p.Name == name {
			return p.Conn
		}
	}
	return nil
}
