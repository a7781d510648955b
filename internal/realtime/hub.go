package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// Hub owns the WebSocket transport: it upgrades authenticated
// handshakes, pumps frames in and out, tracks topic subscriptions, and
// dispatches the router's broadcasts. All directory access goes
// through the router and lifecycle components.
type Hub struct {
	gatekeeper *Gatekeeper
	router     *Router
	lifecycle  *Lifecycle
	subs       *subscriptions
	upgrader   websocket.Upgrader
	logger     *log.Logger
}

// NewHub wires the realtime components over a shared directory.
// allowedOrigins restricts cross-origin upgrades; empty means
// same-host plus localhost only.
func NewHub(dir *Directory, resolver PrincipalResolver, allowedOrigins []string, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}

	origins := make(map[string]bool)
	for _, origin := range allowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" && trimmed != "*" {
			origins[trimmed] = true
		}
	}
	allowAll := false
	for _, origin := range allowedOrigins {
		if strings.TrimSpace(origin) == "*" {
			allowAll = true
		}
	}

	h := &Hub{
		gatekeeper: NewGatekeeper(resolver),
		router:     NewRouter(dir, logger),
		subs:       newSubscriptions(),
		logger:     logger,
	}
	h.lifecycle = NewLifecycle(dir, h, logger)
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return allowAll || checkOrigin(r, origins)
		},
	}
	return h
}

// Lifecycle exposes the connection registry for diagnostics.
func (h *Hub) Lifecycle() *Lifecycle { return h.lifecycle }

// ServeHTTP handles the /ws upgrade endpoint. Authentication happens
// before the upgrade: a missing or invalid token is rejected with 401
// and no connection state is ever allocated.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, err := h.gatekeeper.Authenticate(r)
	if err != nil {
		h.logger.Printf("realtime: handshake rejected: %v", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("realtime: upgrade error: %v", err)
		return
	}

	c := newClient(h, conn, p)
	h.lifecycle.Established(c.id, p)

	go c.writePump()
	go c.readPump()
}

// Publish sends an event to every subscriber of a topic. Delivery is
// best-effort and per-subscriber: a slow or dead subscriber is
// disconnected without affecting the others.
func (h *Hub) Publish(topic string, event any) {
	body, err := json.Marshal(event)
	if err != nil {
		h.logger.Printf("realtime: marshal event for %s: %v", topic, err)
		return
	}
	frame, err := json.Marshal(Frame{
		Type:        FrameMessage,
		Destination: topic,
		Body:        body,
	})
	if err != nil {
		h.logger.Printf("realtime: marshal frame for %s: %v", topic, err)
		return
	}

	for _, c := range h.subs.subscribers(topic) {
		if !c.enqueue(frame) {
			// Close only; the client's readPump observes the dead socket
			// and runs drop, so the directory purge is ordered after the
			// connection's final command.
			h.logger.Printf("realtime: client %s too slow, disconnecting", c.id)
			c.close()
		}
	}
}

// handleFrame dispatches one inbound frame from an ACTIVE connection.
// Anything unrecognized is logged and dropped; connections are
// long-lived and a single bad frame must not end them.
func (h *Hub) handleFrame(c *Client, frame Frame) {
	switch frame.Type {
	case FrameSubscribe:
		if !strings.HasPrefix(frame.Destination, TopicPrefix) {
			h.logger.Printf("realtime: subscribe to non-topic %q from %s, dropped", frame.Destination, c.id)
			return
		}
		h.subs.subscribe(c, frame.Destination)

	case FrameUnsubscribe:
		h.subs.unsubscribe(c, frame.Destination)

	case FrameSend:
		cmd, err := ParseCommand(frame.Destination, frame.Body)
		if err != nil {
			h.logger.Printf("realtime: bad command from %s: %v", c.id, err)
			return
		}
		for _, out := range h.router.Route(c.principal, cmd) {
			h.Publish(out.Topic, out.Event)
		}

	default:
		h.logger.Printf("realtime: unknown frame type %q from %s, dropped", frame.Type, c.id)
	}
}

// drop tears down a connection: subscriptions removed, directory
// purged with departure broadcasts, socket closed. Called only from
// readPump's defer, after the read loop has ended, so no command can
// follow the purge. Safe to call more than once for the same client.
func (h *Hub) drop(c *Client) {
	h.subs.dropClient(c)
	h.lifecycle.Closed(c.id)
	c.close()
}

func checkOrigin(r *http.Request, allowed map[string]bool) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if allowed[origin] {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Host
	if host == r.Host {
		return true
	}
	if host == "localhost" || strings.HasPrefix(host, "localhost:") {
		return true
	}
	if host == "127.0.0.1" || strings.HasPrefix(host, "127.0.0.1:") {
		return true
	}
	return false
}
