package repository

import (
	"slices"
	"strings"
)

// RemoteBranch is a branch as advertised by the remote.
// Recomputed on every run, never persisted.
type RemoteBranch struct {
	Name string
	Ref  string // tip commit hash
}

// TrackingLink records which remote branch a local branch follows.
// A local branch is either untracked or tracked by exactly one
// remote branch.
type TrackingLink struct {
	RemoteAlias  string
	RemoteBranch string
}

// LocalBranch is a branch of the local working copy with its
// tracking link, if any
type LocalBranch struct {
	Name  string
	Track *TrackingLink
}

// ActionOp is the kind of convergence action the reconciler planned
// for one remote branch
type ActionOp string

const (
	// OpSyncDefault creates or retargets the tracking link of the default
	// branch and fast-forwards it to the remote tip. The default branch is
	// the convergence anchor of the repository.
	OpSyncDefault ActionOp = "sync-default"

	// OpAdoptLocal overwrites a same-named local branch to the remote tip
	// and sets its tracking link. A local branch shadowing a remote branch
	// without tracking it is treated as a stale copy of the same history.
	OpAdoptLocal ActionOp = "adopt-local"

	// OpCreateLocal creates a new local branch tracking the remote branch,
	// initialised to the remote tip
	OpCreateLocal ActionOp = "create-local"
)

// Action is one planned branch convergence step
type Action struct {
	Op     ActionOp
	Branch string
	Link   TrackingLink
	Ref    string // remote tip the branch will converge on
}

// reconcile computes the branch actions needed to converge the local
// branch set on the authoritative remote branch set.
//
// Local branches without a remote counterpart are never touched: the
// archive retains history the remote no longer advertises. Remote
// branches are processed in name order so the plan, and therefore the
// action log, is deterministic for a given input.
func reconcile(local []LocalBranch, remote []RemoteBranch, defaultBranch, alias string) []Action {
	localIdx := make(map[string]LocalBranch, len(local))
	for _, lb := range local {
		localIdx[lb.Name] = lb
	}

	remote = slices.Clone(remote)
	slices.SortFunc(remote, func(a, b RemoteBranch) int {
		return strings.Compare(a.Name, b.Name)
	})

	var actions []Action
	for _, rb := range remote {
		link := TrackingLink{RemoteAlias: alias, RemoteBranch: rb.Name}

		lb, exists := localIdx[rb.Name]

		// already converged, nothing to do
		if exists && lb.Track != nil && *lb.Track == link {
			continue
		}

		switch {
		case rb.Name == defaultBranch:
			actions = append(actions, Action{Op: OpSyncDefault, Branch: rb.Name, Link: link, Ref: rb.Ref})
		case exists:
			// untracked or tracked elsewhere, adopt the remote line of history
			actions = append(actions, Action{Op: OpAdoptLocal, Branch: rb.Name, Link: link, Ref: rb.Ref})
		default:
			actions = append(actions, Action{Op: OpCreateLocal, Branch: rb.Name, Link: link, Ref: rb.Ref})
		}
	}

	return actions
}
