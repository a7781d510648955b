package realtime

import (
	"fmt"
	"sort"
	"sync"
	"testing"
)

func sorted(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

func TestJoinLeaveIdempotent(t *testing.T) {
	d := NewDirectory()

	d.JoinWorkspace("u1", "w1")
	d.JoinWorkspace("u1", "w1")
	d.LeaveWorkspace("u1", "w1")

	if d.InWorkspace("u1", "w1") {
		t.Error("user still in workspace after single leave following double join")
	}
	if got := d.UserWorkspaces("u1"); len(got) != 0 {
		t.Errorf("UserWorkspaces = %v, want empty", got)
	}
}

func TestLeaveUnknownIsNoOp(t *testing.T) {
	d := NewDirectory()

	d.LeaveWorkspace("u1", "w1")
	d.UnwatchTask("u1", "t1")

	if n := d.WorkspaceUserCount("w1"); n != 0 {
		t.Errorf("WorkspaceUserCount = %d, want 0", n)
	}
}

func TestForwardReverseSymmetry(t *testing.T) {
	d := NewDirectory()

	d.JoinWorkspace("u1", "w1")
	d.JoinWorkspace("u1", "w2")
	d.JoinWorkspace("u2", "w1")
	d.LeaveWorkspace("u1", "w2")
	d.WatchTask("u1", "t1")
	d.WatchTask("u2", "t1")
	d.UnwatchTask("u2", "t1")

	for _, u := range []string{"u1", "u2"} {
		for _, w := range []string{"w1", "w2"} {
			forward := false
			for _, id := range d.UserWorkspaces(u) {
				if id == w {
					forward = true
				}
			}
			if forward != d.InWorkspace(u, w) {
				t.Errorf("symmetry broken for (%s, %s): forward=%v reverse=%v", u, w, forward, d.InWorkspace(u, w))
			}
		}
	}

	if !d.WatchingTask("u1", "t1") {
		t.Error("u1 should watch t1")
	}
	if d.WatchingTask("u2", "t1") {
		t.Error("u2 should not watch t1 after unwatch")
	}
}

func TestNoLeakedEmptySets(t *testing.T) {
	d := NewDirectory()

	d.JoinWorkspace("u1", "w1")
	d.LeaveWorkspace("u1", "w1")

	if _, ok := d.workspaceUsers.Load("w1"); ok {
		t.Error("empty workspace set left behind after last member left")
	}
	if _, ok := d.userWorkspaces.Load("u1"); ok {
		t.Error("empty user set left behind after last workspace left")
	}
	if got := d.WorkspaceUsers("w1"); len(got) != 0 {
		t.Errorf("WorkspaceUsers = %v, want empty", got)
	}
}

func TestRemoveUserPurgesEverything(t *testing.T) {
	d := NewDirectory()

	for _, w := range []string{"w1", "w2", "w3"} {
		d.JoinWorkspace("u1", w)
	}
	d.WatchTask("u1", "t10")
	d.WatchTask("u1", "t20")
	d.JoinWorkspace("u2", "w1")
	d.WatchTask("u2", "t10")

	got := sorted(d.RemoveUser("u1"))
	want := []string{"w1", "w2", "w3"}
	if len(got) != len(want) {
		t.Fatalf("RemoveUser returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("RemoveUser returned %v, want %v", got, want)
		}
	}

	for _, w := range want {
		if d.InWorkspace("u1", w) {
			t.Errorf("u1 still in workspace %s after RemoveUser", w)
		}
	}
	for _, task := range []string{"t10", "t20"} {
		if d.WatchingTask("u1", task) {
			t.Errorf("u1 still watching task %s after RemoveUser", task)
		}
	}

	// Other users untouched.
	if !d.InWorkspace("u2", "w1") {
		t.Error("u2 lost workspace membership during u1's removal")
	}
	if !d.WatchingTask("u2", "t10") {
		t.Error("u2 lost task watch during u1's removal")
	}
	if n := d.WorkspaceUserCount("w1"); n != 1 {
		t.Errorf("WorkspaceUserCount(w1) = %d, want 1", n)
	}
}

func TestRemoveUserTwice(t *testing.T) {
	d := NewDirectory()
	d.JoinWorkspace("u1", "w1")

	first := d.RemoveUser("u1")
	second := d.RemoveUser("u1")

	if len(first) != 1 || first[0] != "w1" {
		t.Errorf("first RemoveUser = %v, want [w1]", first)
	}
	if len(second) != 0 {
		t.Errorf("second RemoveUser = %v, want empty", second)
	}
}

func TestCounts(t *testing.T) {
	d := NewDirectory()

	d.JoinWorkspace("u1", "w1")
	d.JoinWorkspace("u2", "w1")
	d.WatchTask("u1", "t1")

	if n := d.WorkspaceUserCount("w1"); n != 2 {
		t.Errorf("WorkspaceUserCount = %d, want 2", n)
	}
	if n := d.TaskUserCount("t1"); n != 1 {
		t.Errorf("TaskUserCount = %d, want 1", n)
	}
	if n := d.TaskUserCount("missing"); n != 0 {
		t.Errorf("TaskUserCount(missing) = %d, want 0", n)
	}
}

func TestConcurrentChurn(t *testing.T) {
	d := NewDirectory()

	const users = 16
	const rounds = 200

	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := fmt.Sprintf("u%d", i)
			workspaceID := fmt.Sprintf("w%d", i%4)
			taskID := fmt.Sprintf("t%d", i%3)
			for r := 0; r < rounds; r++ {
				d.JoinWorkspace(userID, workspaceID)
				d.WatchTask(userID, taskID)
				d.UserWorkspaces(userID)
				d.WorkspaceUserCount(workspaceID)
				d.LeaveWorkspace(userID, workspaceID)
				d.UnwatchTask(userID, taskID)
			}
		}(i)
	}
	wg.Wait()

	// Every goroutine ends with a leave, so nothing may remain.
	for i := 0; i < 4; i++ {
		w := fmt.Sprintf("w%d", i)
		if n := d.WorkspaceUserCount(w); n != 0 {
			t.Errorf("WorkspaceUserCount(%s) = %d after churn, want 0", w, n)
		}
		if _, ok := d.workspaceUsers.Load(w); ok {
			t.Errorf("residual entry for %s after churn", w)
		}
	}
}

func TestConcurrentRemoveUser(t *testing.T) {
	d := NewDirectory()

	const users = 8
	for i := 0; i < users; i++ {
		u := fmt.Sprintf("u%d", i)
		d.JoinWorkspace(u, "shared")
		d.WatchTask(u, "task")
	}

	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d.RemoveUser(fmt.Sprintf("u%d", i))
		}(i)
	}
	wg.Wait()

	if n := d.WorkspaceUserCount("shared"); n != 0 {
		t.Errorf("WorkspaceUserCount = %d after all users removed, want 0", n)
	}
	if _, ok := d.workspaceUsers.Load("shared"); ok {
		t.Error("residual workspace entry after all users removed")
	}
	if _, ok := d.taskUsers.Load("task"); ok {
		t.Error("residual task entry after all users removed")
	}
}
