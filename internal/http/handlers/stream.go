package handlers

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"videobatch/internal/batch"
	"videobatch/internal/domain"
)

const streamWriteTimeout = 10 * time.Second

type streamEvent struct {
	Type     string         `json:"type"`
	JobIndex *int           `json:"job_index,omitempty"`
	From     any            `json:"from,omitempty"`
	To       any            `json:"to,omitempty"`
	Job      *domain.Job    `json:"job,omitempty"`
	Result   *batchResponse `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// streamWriter serialises writes to one websocket connection.
type streamWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
	err  error
}

func (s *streamWriter) send(ev streamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	s.err = s.conn.WriteJSON(ev)
}

// streamObserver forwards orchestrator events to the client.
type streamObserver struct{ w *streamWriter }

func (o streamObserver) StateChanged(index int, from, to batch.State) {
	o.w.send(streamEvent{Type: "state", JobIndex: &index, From: from, To: to})
}

func (o streamObserver) AccountRotated(index int, from, to int) {
	o.w.send(streamEvent{Type: "rotation", JobIndex: &index, From: from, To: to})
}

func (o streamObserver) JobRecorded(job domain.Job) {
	o.w.send(streamEvent{Type: "job", Job: &job})
}

// StreamBatch runs a batch over a websocket. The first client message is
// the batch body; the server then streams state, rotation and job events
// and ends with a result or error event. Closing the socket aborts the batch.
func (a *App) StreamBatch(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(chi.URLParam(r, "provider"))
	conn, err := a.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("http: websocket upgrade failed")
		return
	}
	defer conn.Close()

	out := &streamWriter{conn: conn}
	var req batchRequest
	if err := conn.ReadJSON(&req); err != nil {
		out.send(streamEvent{Type: "error", Error: "bad_request", Message: "invalid payload"})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		// Any read failure means the client went away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	sreq := req.serviceRequest(provider)
	sreq.Observer = streamObserver{w: out}
	res, err := a.Runner.Run(ctx, sreq)
	result := newBatchResponse(provider, res)
	if err != nil {
		_, kind := statusFor(err)
		a.Logger.Warn().Err(err).Str("provider", provider).Msg("http: streamed batch failed")
		result.Error, result.Message = kind, err.Error()
		out.send(streamEvent{Type: "error", Error: kind, Message: err.Error(), Result: &result})
	} else {
		out.send(streamEvent{Type: "result", Result: &result})
	}

	out.mu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	out.mu.Unlock()
}
