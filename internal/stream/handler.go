package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chadiek/phone-agent/internal/agent"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Twilio connects without an Origin header.
		return true
	},
}

// turnTimeout bounds one transcribe -> respond -> synthesize cycle.
const turnTimeout = 60 * time.Second

// Handler serves one websocket media stream per call and drives the
// session controller from transport events.
type Handler struct {
	orch *agent.Orchestrator
	log  *zap.Logger
}

func NewHandler(orch *agent.Orchestrator, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{orch: orch, log: log}
}

// callStream is the per-connection state: the captured stream
// correlation identifier and a serialized writer.
type callStream struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	streamSID string
}

func (c *callStream) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *callStream) sendAudio(mulaw []byte) error {
	frame, err := EncodeMedia(c.streamSID, mulaw)
	if err != nil {
		return err
	}
	if err := c.write(frame); err != nil {
		return err
	}
	// Trailing mark lets the transport report playback completion.
	mark, err := EncodeMark(c.streamSID, uuid.NewString())
	if err != nil {
		return err
	}
	return c.write(mark)
}

// ServeStream upgrades the request and processes transport events in
// arrival order until stop or disconnect. Events for one call are
// handled on this single task; only the turn pipeline runs async.
func (h *Handler) ServeStream(w http.ResponseWriter, r *http.Request, callSID string) {
	log := h.log.With(zap.String("call_sid", callSID))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	cs := &callStream{conn: conn}
	var sess *agent.Session

	// A clean stop event retires as completed; a read error before that
	// is an abnormal disconnect and must not be recorded as a finished
	// call. Either way the transcript accumulated so far is persisted.
	finalStatus, finalReason := "failed", "stream disconnected"

	defer func() {
		if sess != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			h.orch.Retire(ctx, sess, finalStatus, finalReason)
			cancel()
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Info("stream disconnected", zap.Error(err))
			return
		}
		ev, err := DecodeEvent(data)
		if err != nil {
			// Bad frame: drop it, keep the call alive.
			log.Debug("dropping frame", zap.Error(err))
			continue
		}

		switch ev.Type {
		case EventStart:
			cs.streamSID = ev.StreamSID
			log.Info("stream started", zap.String("stream_sid", cs.streamSID))
			if sess == nil {
				sess = h.orch.StartCall(r.Context(), callSID, "unknown", "unknown", agent.DirectionInbound)
			}
			sess.Activate()
			h.sendGreeting(sess, cs, log)

		case EventMedia:
			if sess == nil {
				// start must precede media.
				continue
			}
			snapshot, ready := h.orch.Absorb(sess, ev.Audio)
			if ready {
				go h.runTurn(sess, cs, snapshot, log)
			}

		case EventMark:
			log.Debug("mark received", zap.String("name", ev.Mark))

		case EventStop:
			log.Info("stream stopped")
			finalStatus, finalReason = "completed", "stream closed"
			return
		}
	}
}

// sendGreeting synthesizes and ships the opening line. It runs inline
// on this call's event task: media events queue on the socket until
// the suppression window is open, so no inbound frame can buffer ahead
// of the greeting and trigger a turn against our own audio. Other
// calls read on their own tasks and are not stalled.
func (h *Handler) sendGreeting(sess *agent.Session, cs *callStream, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	defer cancel()
	out, err := h.orch.Greeting(ctx, sess)
	if err != nil {
		log.Warn("greeting failed", zap.Error(err))
		return
	}
	if len(out) == 0 || sess.Status() == agent.StatusEnded {
		return
	}
	if err := cs.sendAudio(out); err != nil {
		log.Warn("greeting send failed", zap.Error(err))
	}
}

// runTurn executes the pipeline for one completed utterance and
// delivers the reply. Delivery happens before FinishTurn so the
// session never evaluates a new turn boundary ahead of its own
// outbound audio. A session retired mid-flight discards the result.
func (h *Handler) runTurn(sess *agent.Session, cs *callStream, utterance []byte, log *zap.Logger) {
	defer sess.FinishTurn()

	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	defer cancel()

	out, err := h.orch.RunTurn(ctx, sess, utterance)
	if err != nil {
		log.Warn("turn degraded to no reply", zap.Error(err))
		return
	}
	if len(out) == 0 {
		return
	}
	if sess.Status() == agent.StatusEnded {
		log.Debug("discarding reply for retired session")
		return
	}
	if err := cs.sendAudio(out); err != nil {
		log.Warn("reply send failed", zap.Error(err))
	}
}
