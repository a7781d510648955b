package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Principal is the authenticated identity bound to a connection at
// handshake time. It never changes for the connection's lifetime.
type Principal struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Frame is the wire envelope for every message in either direction.
// Inbound frames carry type "send" (addressed to an /app/ destination),
// "subscribe" or "unsubscribe" (addressed to a /topic/ destination).
// Outbound frames carry type "message".
type Frame struct {
	Type        string          `json:"type"`
	Destination string          `json:"destination"`
	Body        json.RawMessage `json:"body,omitempty"`
}

const (
	FrameSend        = "send"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameMessage     = "message"
)

// AppPrefix is the destination prefix for inbound commands.
const AppPrefix = "/app/"

// TopicPrefix is the destination prefix for outbound broadcasts.
const TopicPrefix = "/topic/"

// Command is one typed inbound action. The acting principal is never
// part of a command; it always comes from the connection that carried
// the frame.
type Command interface {
	isCommand()
}

// JoinWorkspace subscribes the user to a workspace's live events.
type JoinWorkspace struct {
	WorkspaceID string `json:"workspaceId"`
}

// LeaveWorkspace removes the user from a workspace's live events.
type LeaveWorkspace struct {
	WorkspaceID string `json:"workspaceId"`
}

// WatchTask registers interest in one task.
type WatchTask struct {
	TaskID string `json:"taskId"`
}

// UnwatchTask removes interest in one task.
type UnwatchTask struct {
	TaskID string `json:"taskId"`
}

// CursorUpdate reports the user's cursor position. TaskID may be
// empty, in which case the update fans out to every workspace the
// user has joined.
type CursorUpdate struct {
	TaskID string  `json:"taskId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// TypingStart signals the user began typing on a task.
type TypingStart struct {
	TaskID string `json:"taskId"`
}

// TypingStop signals the user stopped typing on a task.
type TypingStop struct {
	TaskID string `json:"taskId"`
}

func (JoinWorkspace) isCommand()  {}
func (LeaveWorkspace) isCommand() {}
func (WatchTask) isCommand()      {}
func (UnwatchTask) isCommand()    {}
func (CursorUpdate) isCommand()   {}
func (TypingStart) isCommand()    {}
func (TypingStop) isCommand()     {}

// ParseCommand decodes an /app/ destination plus JSON body into a
// typed command. Unknown routes return an error; the caller logs and
// drops the frame without closing the connection.
func ParseCommand(destination string, body json.RawMessage) (Command, error) {
	route, ok := strings.CutPrefix(destination, AppPrefix)
	if !ok {
		return nil, fmt.Errorf("destination %q lacks %s prefix", destination, AppPrefix)
	}
	if len(body) == 0 {
		body = json.RawMessage("{}")
	}

	var cmd Command
	switch route {
	case "workspace.join":
		cmd = &JoinWorkspace{}
	case "workspace.leave":
		cmd = &LeaveWorkspace{}
	case "task.watch":
		cmd = &WatchTask{}
	case "task.unwatch":
		cmd = &UnwatchTask{}
	case "cursor.update":
		cmd = &CursorUpdate{}
	case "typing.start":
		cmd = &TypingStart{}
	case "typing.stop":
		cmd = &TypingStop{}
	default:
		return nil, fmt.Errorf("unknown command route %q", route)
	}

	if err := json.Unmarshal(body, cmd); err != nil {
		return nil, fmt.Errorf("decode %s body: %w", route, err)
	}
	return deref(cmd), nil
}

// deref returns the command as a value so the router can switch on
// concrete types.
func deref(cmd Command) Command {
	switch c := cmd.(type) {
	case *JoinWorkspace:
		return *c
	case *LeaveWorkspace:
		return *c
	case *WatchTask:
		return *c
	case *UnwatchTask:
		return *c
	case *CursorUpdate:
		return *c
	case *TypingStart:
		return *c
	case *TypingStop:
		return *c
	default:
		return cmd
	}
}

// Presence event types.
const (
	UserOnline  = "USER_ONLINE"
	UserOffline = "USER_OFFLINE"
)

// Typing event types.
const (
	TypingStarted = "START"
	TypingStopped = "STOP"
)

// PresenceEvent announces a user joining or leaving a workspace.
// USER_ONLINE carries the full user, USER_OFFLINE only the id.
type PresenceEvent struct {
	Type   string     `json:"type"`
	User   *Principal `json:"user,omitempty"`
	UserID string     `json:"userId,omitempty"`
}

// CursorEvent carries one user's cursor position.
type CursorEvent struct {
	UserID string    `json:"userId"`
	User   Principal `json:"user"`
	X      float64   `json:"x"`
	Y      float64   `json:"y"`
}

// TypingEvent signals typing start/stop on a task.
type TypingEvent struct {
	Type   string    `json:"type"`
	UserID string    `json:"userId"`
	User   Principal `json:"user"`
}

// Outbound pairs a topic with the event to publish there. The router
// returns these; a separate dispatch step performs the send.
type Outbound struct {
	Topic string
	Event any
}

// Topic constructors. Topics are the full destination including the
// /topic/ prefix.

func WorkspacePresenceTopic(workspaceID string) string {
	return TopicPrefix + "workspace/" + workspaceID + "/presence"
}

func WorkspaceCursorsTopic(workspaceID string) string {
	return TopicPrefix + "workspace/" + workspaceID + "/cursors"
}

func TaskCursorsTopic(taskID string) string {
	return TopicPrefix + "task/" + taskID + "/cursors"
}

func TaskTypingTopic(taskID string) string {
	return TopicPrefix + "task/" + taskID + "/typing"
}

// WorkspaceActivityTopic carries task-list change events published by
// the HTTP layer.
func WorkspaceActivityTopic(workspaceID string) string {
	return TopicPrefix + "workspace/" + workspaceID + "/activity"
}
