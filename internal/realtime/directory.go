// Package realtime implements the live collaboration subsystem: the
// session directory of active watchers, connection handshake, event
// routing, and disconnect cleanup.
package realtime

import (
	"sync"
)

// memberSet is a mutex-guarded string set. Once the last member is
// removed the set is marked dead and its parent map entry deleted;
// mutators that raced the removal retry against a fresh set.
type memberSet struct {
	mu   sync.Mutex
	m    map[string]struct{}
	dead bool
}

// Directory is the in-memory bidirectional index of which users are
// watching which workspaces and tasks. Nothing here is persisted; the
// directory is rebuilt from client commands after a restart.
//
// Each relation lives in two indices, a forward one (user -> ids) and
// a reverse one (id -> users). Synchronization is per set rather than
// one directory-wide lock: every presence and cursor event passes
// through here.
type Directory struct {
	userWorkspaces sync.Map // userID -> *memberSet of workspace ids
	workspaceUsers sync.Map // workspaceID -> *memberSet of user ids
	userTasks      sync.Map // userID -> *memberSet of task ids
	taskUsers      sync.Map // taskID -> *memberSet of user ids
}

// NewDirectory creates an empty session directory.
func NewDirectory() *Directory {
	return &Directory{}
}

// JoinWorkspace records that the user is watching the workspace.
// Idempotent.
func (d *Directory) JoinWorkspace(userID, workspaceID string) {
	addMember(&d.userWorkspaces, userID, workspaceID)
	addMember(&d.workspaceUsers, workspaceID, userID)
}

// LeaveWorkspace removes the watch relation. Leaving a workspace the
// user never joined is a no-op.
func (d *Directory) LeaveWorkspace(userID, workspaceID string) {
	removeMember(&d.userWorkspaces, userID, workspaceID)
	removeMember(&d.workspaceUsers, workspaceID, userID)
}

// WatchTask records that the user is watching the task. Idempotent.
func (d *Directory) WatchTask(userID, taskID string) {
	addMember(&d.userTasks, userID, taskID)
	addMember(&d.taskUsers, taskID, userID)
}

// UnwatchTask removes the task watch relation; unknown pairs are a
// no-op.
func (d *Directory) UnwatchTask(userID, taskID string) {
	removeMember(&d.userTasks, userID, taskID)
	removeMember(&d.taskUsers, taskID, userID)
}

// RemoveUser purges the user from every workspace and task index and
// returns the workspace ids the user was in, for the departure
// broadcast.
func (d *Directory) RemoveUser(userID string) []string {
	workspaces := drain(&d.userWorkspaces, &d.workspaceUsers, userID)
	drain(&d.userTasks, &d.taskUsers, userID)
	return workspaces
}

// UserWorkspaces returns the workspace ids the user is watching.
func (d *Directory) UserWorkspaces(userID string) []string {
	return members(&d.userWorkspaces, userID)
}

// WorkspaceUsers returns the user ids watching the workspace.
func (d *Directory) WorkspaceUsers(workspaceID string) []string {
	return members(&d.workspaceUsers, workspaceID)
}

// UserTasks returns the task ids the user is watching.
func (d *Directory) UserTasks(userID string) []string {
	return members(&d.userTasks, userID)
}

// TaskUsers returns the user ids watching the task.
func (d *Directory) TaskUsers(taskID string) []string {
	return members(&d.taskUsers, taskID)
}

// InWorkspace reports whether the user is watching the workspace.
func (d *Directory) InWorkspace(userID, workspaceID string) bool {
	return contains(&d.workspaceUsers, workspaceID, userID)
}

// WatchingTask reports whether the user is watching the task.
func (d *Directory) WatchingTask(userID, taskID string) bool {
	return contains(&d.taskUsers, taskID, userID)
}

// WorkspaceUserCount returns the number of users watching the
// workspace, for presence badges.
func (d *Directory) WorkspaceUserCount(workspaceID string) int {
	return count(&d.workspaceUsers, workspaceID)
}

// TaskUserCount returns the number of users watching the task.
func (d *Directory) TaskUserCount(taskID string) int {
	return count(&d.taskUsers, taskID)
}

func addMember(index *sync.Map, key, member string) {
	for {
		v, _ := index.LoadOrStore(key, &memberSet{m: make(map[string]struct{})})
		s := v.(*memberSet)
		s.mu.Lock()
		if s.dead {
			// Reaped between LoadOrStore and the lock; retry
			// against whatever set now lives at the key.
			s.mu.Unlock()
			continue
		}
		s.m[member] = struct{}{}
		s.mu.Unlock()
		return
	}
}

func removeMember(index *sync.Map, key, member string) {
	v, ok := index.Load(key)
	if !ok {
		return
	}
	s := v.(*memberSet)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return
	}
	delete(s.m, member)
	if len(s.m) == 0 {
		s.dead = true
		index.Delete(key)
	}
}

// drain removes the entire forward entry for userID and detaches the
// user from each reverse set, returning the ids the user was attached
// to.
func drain(forward, reverse *sync.Map, userID string) []string {
	v, ok := forward.Load(userID)
	if !ok {
		return nil
	}
	s := v.(*memberSet)
	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return nil
	}
	ids := make([]string, 0, len(s.m))
	for id := range s.m {
		ids = append(ids, id)
	}
	s.m = nil
	s.dead = true
	forward.Delete(userID)
	s.mu.Unlock()

	for _, id := range ids {
		removeMember(reverse, id, userID)
	}
	return ids
}

func members(index *sync.Map, key string) []string {
	v, ok := index.Load(key)
	if !ok {
		return nil
	}
	s := v.(*memberSet)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.m))
	for id := range s.m {
		out = append(out, id)
	}
	return out
}

func contains(index *sync.Map, key, member string) bool {
	v, ok := index.Load(key)
	if !ok {
		return false
	}
	s := v.(*memberSet)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok = s.m[member]
	return ok
}

func count(index *sync.Map, key string) int {
	v, ok := index.Load(key)
	if !ok {
		return 0
	}
	s := v.(*memberSet)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
