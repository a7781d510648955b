package realtime

import (
	"log"
)

// Router applies inbound commands to the session directory and
// computes the broadcasts they imply. Route is a pure mutation step:
// it returns the (topic, event) pairs to publish and performs no
// network I/O itself.
type Router struct {
	dir    *Directory
	logger *log.Logger
}

// NewRouter creates a router over the given directory.
func NewRouter(dir *Directory, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.Default()
	}
	return &Router{dir: dir, logger: logger}
}

// Route executes one command for the given principal. The principal
// always comes from the connection's handshake state, never from the
// command payload. Unknown or incomplete commands are logged and
// produce no output; they never terminate the connection.
func (r *Router) Route(p Principal, cmd Command) []Outbound {
	switch c := cmd.(type) {
	case JoinWorkspace:
		if c.WorkspaceID == "" {
			r.logger.Printf("realtime: join-workspace from %s missing workspaceId, dropped", p.ID)
			return nil
		}
		r.dir.JoinWorkspace(p.ID, c.WorkspaceID)
		return []Outbound{{
			Topic: WorkspacePresenceTopic(c.WorkspaceID),
			Event: PresenceEvent{Type: UserOnline, User: &p},
		}}

	case LeaveWorkspace:
		if c.WorkspaceID == "" {
			r.logger.Printf("realtime: leave-workspace from %s missing workspaceId, dropped", p.ID)
			return nil
		}
		r.dir.LeaveWorkspace(p.ID, c.WorkspaceID)
		return []Outbound{{
			Topic: WorkspacePresenceTopic(c.WorkspaceID),
			Event: PresenceEvent{Type: UserOffline, UserID: p.ID},
		}}

	case WatchTask:
		if c.TaskID == "" {
			r.logger.Printf("realtime: watch-task from %s missing taskId, dropped", p.ID)
			return nil
		}
		r.dir.WatchTask(p.ID, c.TaskID)
		return nil

	case UnwatchTask:
		if c.TaskID == "" {
			r.logger.Printf("realtime: unwatch-task from %s missing taskId, dropped", p.ID)
			return nil
		}
		r.dir.UnwatchTask(p.ID, c.TaskID)
		return nil

	case CursorUpdate:
		event := CursorEvent{UserID: p.ID, User: p, X: c.X, Y: c.Y}
		if c.TaskID != "" {
			return []Outbound{{Topic: TaskCursorsTopic(c.TaskID), Event: event}}
		}
		// No explicit target: fan out to every workspace the user
		// has joined rather than failing the command.
		var out []Outbound
		for _, workspaceID := range r.dir.UserWorkspaces(p.ID) {
			out = append(out, Outbound{Topic: WorkspaceCursorsTopic(workspaceID), Event: event})
		}
		return out

	case TypingStart:
		if c.TaskID == "" {
			r.logger.Printf("realtime: typing-start from %s missing taskId, dropped", p.ID)
			return nil
		}
		return []Outbound{{
			Topic: TaskTypingTopic(c.TaskID),
			Event: TypingEvent{Type: TypingStarted, UserID: p.ID, User: p},
		}}

	case TypingStop:
		if c.TaskID == "" {
			r.logger.Printf("realtime: typing-stop from %s missing taskId, dropped", p.ID)
			return nil
		}
		return []Outbound{{
			Topic: TaskTypingTopic(c.TaskID),
			Event: TypingEvent{Type: TypingStopped, UserID: p.ID, User: p},
		}}

	default:
		r.logger.Printf("realtime: unknown command %T from %s, dropped", cmd, p.ID)
		return nil
	}
}
