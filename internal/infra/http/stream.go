package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// handleStreamRun upgrades the connection and pushes run events until the run
// reaches a terminal state or the client goes away. The first frame is a
// snapshot of the run's current state so late subscribers see where it stands.
func (s *Server) handleStreamRun(c *gin.Context) {
	if s.bus == nil || s.runs == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	runID := c.Param("run_id")
	if _, err := s.runs.Get(c.Request.Context(), runID); err != nil {
		writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, cancel := s.bus.Subscribe(runID)
	defer cancel()

	// Re-read after subscribing: the run is persisted before its terminal
	// event is published, so a non-terminal status here guarantees the
	// terminal event still arrives on the channel.
	run, err := s.runs.Get(c.Request.Context(), runID)
	if err != nil {
		return
	}
	if err := writeStreamEvent(conn, snapshotEvent(run)); err != nil {
		return
	}
	if run.Status.Terminal() {
		closeStream(conn)
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := writeStreamEvent(conn, evt); err != nil {
				return
			}
			if evt.Type == domain.EventRunCompleted || evt.Type == domain.EventRunFailed {
				closeStream(conn)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeStreamEvent(conn *websocket.Conn, evt domain.RunEvent) error {
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(evt)
}

func closeStream(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func snapshotEvent(run domain.Run) domain.RunEvent {
	evt := domain.RunEvent{
		RunID:  run.ID,
		Type:   domain.EventRunStarted,
		Status: run.Status,
		At:     time.Now().UTC(),
	}
	switch run.Status {
	case domain.RunCompleted:
		evt.Type = domain.EventRunCompleted
	case domain.RunFailed:
		evt.Type = domain.EventRunFailed
		if run.Failure != nil {
			evt.Stage = run.Failure.Stage
			evt.Cause = run.Failure.Cause
			evt.Message = run.Failure.Message
		}
	}
	return evt
}
