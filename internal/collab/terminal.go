package collab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/devsync/devsync/internal/membership"
	"github.com/devsync/devsync/pkg/proto"
)

// entryPointPriority is the conventional entry-point preference when no
// explicit file is pinned.
var entryPointPriority = []string{"main.py", "app.py", "run.py"}

const sourceSuffix = ".py"

// terminalSession is one live execution run owned by a (connection,
// room) pair. The timeout timer and the explicit stop path share the
// cancel func; cleanup is idempotent.
type terminalSession struct {
	id     string
	roomID string
	connID string

	mu      sync.Mutex
	stopped bool

	cancel      context.CancelFunc
	timer       *time.Timer
	cleanupOnce sync.Once
}

func (t *terminalSession) markStopped() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *terminalSession) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// cleanup tears down the timer/cancel pair exactly once; calling it
// twice must not double-fire or error.
func (t *terminalSession) cleanup() {
	t.cleanupOnce.Do(func() {
		t.mu.Lock()
		timer := t.timer
		t.mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		t.cancel()
	})
}

// terminalManager drives execution sessions: at most one per
// (connection, room), torn down on completion, stop, timeout, or the
// owning connection's disconnect.
type terminalManager struct {
	mu       sync.Mutex
	sessions map[string]*terminalSession // connID:roomID -> session

	runner      *Runner
	registry    *Registry
	members     membership.Store
	timeout     time.Duration
	maxLogChars int
	metrics     *Metrics
}

func newTerminalManager(runner *Runner, registry *Registry, members membership.Store, timeout time.Duration, maxLogChars int, metrics *Metrics) *terminalManager {
	return &terminalManager{
		sessions:    make(map[string]*terminalSession),
		runner:      runner,
		registry:    registry,
		members:     members,
		timeout:     timeout,
		maxLogChars: maxLogChars,
		metrics:     metrics,
	}
}

func sessionKey(connID, roomID string) string {
	return connID + ":" + roomID
}

// clipLog bounds one log message to the configured character budget.
func (m *terminalManager) clipLog(message string) string {
	if len(message) <= m.maxLogChars {
		return message
	}
	return message[:m.maxLogChars] + "\n...output truncated..."
}

func (m *terminalManager) emitLog(c *client, message, logType string) {
	c.emit(proto.EventTerminalLog, proto.TerminalLog{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Message:   m.clipLog(message),
		Type:      logType,
	})
}

func emitSession(c *client, roomID, id, status string) {
	c.emit(proto.EventTerminalSession, proto.TerminalSession{ID: id, RoomID: roomID, Status: status})
}

// pickSourceNode selects the file to run: the pinned file when it is a
// recognized source file, else the first conventional entry point, else
// the first recognized source file in the tree.
func pickSourceNode(tree []proto.FSNode, preferredID string) *proto.FSNode {
	var files []proto.FSNode
	for _, n := range tree {
		if n.Type == proto.NodeFile {
			files = append(files, n)
		}
	}

	if preferredID != "" {
		for i := range files {
			if files[i].ID == preferredID && strings.HasSuffix(files[i].Name, sourceSuffix) {
				return &files[i]
			}
		}
	}
	for _, name := range entryPointPriority {
		for i := range files {
			if files[i].Name == name {
				return &files[i]
			}
		}
	}
	for i := range files {
		if strings.HasSuffix(files[i].Name, sourceSuffix) {
			return &files[i]
		}
	}
	return nil
}

// start launches a session, cancelling and discarding any prior session
// for the same (connection, room) first. The external call runs in its
// own goroutine so the connection's read loop stays responsive to
// terminal:stop.
func (m *terminalManager) start(ctx context.Context, c *client, req proto.TerminalStartRequest) {
	if req.RoomID == "" {
		return
	}
	key := sessionKey(c.id, req.RoomID)

	m.mu.Lock()
	if existing, ok := m.sessions[key]; ok {
		existing.cleanup()
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	sessionID := uuid.NewString()

	if _, err := m.members.Member(ctx, req.RoomID, c.user()); err != nil {
		emitSession(c, req.RoomID, sessionID, proto.TerminalError)
		m.emitLog(c, "You are not allowed to run code in this room.", proto.LogStderr)
		return
	}

	room := m.registry.Room(ctx, req.RoomID)
	node := pickSourceNode(room.treeSnapshot(), req.FileID)
	if node == nil {
		emitSession(c, req.RoomID, sessionID, proto.TerminalError)
		m.emitLog(c, "No Python file found in the room tree.", proto.LogStderr)
		return
	}
	source := m.registry.Document(ctx, req.RoomID, node.ID).doc.Text()

	// The session outlives the inbound event; detach its context from
	// the read loop.
	runCtx, cancel := context.WithCancel(context.Background())
	sess := &terminalSession{
		id:     sessionID,
		roomID: req.RoomID,
		connID: c.id,
		cancel: cancel,
	}

	m.mu.Lock()
	m.sessions[key] = sess
	m.mu.Unlock()

	emitSession(c, req.RoomID, sessionID, proto.TerminalStarting)
	m.emitLog(c, fmt.Sprintf("Running %s with Piston...", node.Name), proto.LogSystem)
	emitSession(c, req.RoomID, sessionID, proto.TerminalRunning)

	sess.mu.Lock()
	sess.timer = time.AfterFunc(m.timeout, func() {
		if !sess.isStopped() {
			m.emitLog(c, fmt.Sprintf("Execution timed out after %dms", m.timeout.Milliseconds()), proto.LogStderr)
			cancel()
		}
	})
	sess.mu.Unlock()

	go m.run(runCtx, c, sess, key, node.Name, source)
}

func (m *terminalManager) run(ctx context.Context, c *client, sess *terminalSession, key, fileName, source string) {
	result, err := m.runner.Run(ctx, fileName, source, m.timeout)

	m.mu.Lock()
	active, ok := m.sessions[key]
	if ok && active == sess {
		delete(m.sessions, key)
	}
	m.mu.Unlock()
	if !ok || active != sess {
		// A restart already discarded this session.
		sess.cleanup()
		return
	}
	defer sess.cleanup()

	if err != nil {
		// A cancellation after an explicit stop is a stop, not a
		// failure; the timeout path already logged its own line.
		if sess.isStopped() || errors.Is(err, context.Canceled) {
			emitSession(c, sess.roomID, sess.id, proto.TerminalStopped)
			m.metrics.TerminalRuns.WithLabelValues(proto.TerminalStopped).Inc()
			return
		}
		log.Warn().Err(err).Str("room", sess.roomID).Msg("execution run failed")
		emitSession(c, sess.roomID, sess.id, proto.TerminalError)
		m.emitLog(c, err.Error(), proto.LogStderr)
		m.metrics.TerminalRuns.WithLabelValues(proto.TerminalError).Inc()
		return
	}

	if result.Stdout != "" {
		m.emitLog(c, result.Stdout, proto.LogStdout)
	}
	if result.Stderr != "" {
		m.emitLog(c, result.Stderr, proto.LogStderr)
	}
	code := -1
	if result.Code != nil {
		code = *result.Code
	}
	if result.Stdout == "" && result.Stderr == "" && result.Output != "" {
		logType := proto.LogStderr
		if code == 0 {
			logType = proto.LogStdout
		}
		m.emitLog(c, result.Output, logType)
	}
	if result.Stdout == "" && result.Stderr == "" && result.Output == "" && code == 0 {
		m.emitLog(c, "(no output)", proto.LogSystem)
	}

	signal := result.Signal
	if signal == "" {
		signal = "none"
	}
	m.emitLog(c, fmt.Sprintf("Process finished (code=%d, signal=%s)", code, signal), proto.LogSystem)

	status := proto.TerminalError
	if code == 0 {
		status = proto.TerminalStopped
	}
	emitSession(c, sess.roomID, sess.id, status)
	m.metrics.TerminalRuns.WithLabelValues(status).Inc()
}

// stop marks the session stopped and cancels the in-flight call; the
// run goroutine reports the final status.
func (m *terminalManager) stop(c *client, roomID string) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionKey(c.id, roomID)]
	m.mu.Unlock()
	if !ok {
		return
	}

	sess.markStopped()
	m.emitLog(c, "Stopping process...", proto.LogSystem)
	sess.cleanup()
}

// input answers interactive input with an informational line; the
// execution backend has no stdin channel.
func (m *terminalManager) input(c *client) {
	m.emitLog(c, "Interactive stdin is not supported with Piston runs.", proto.LogSystem)
}

// disconnect cancels every session owned by a connection.
func (m *terminalManager) disconnect(connID string) {
	prefix := connID + ":"

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, sess := range m.sessions {
		if strings.HasPrefix(key, prefix) {
			sess.cleanup()
			delete(m.sessions, key)
		}
	}
}
