package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// WSRequest is the envelope of a WebSocket request. The operation's fields
// (text, language, alignment, audio_base64, ...) sit beside id and op.
type WSRequest struct {
	ID string `json:"id"`
	Op string `json:"op"` // visemes, alignment, approximate
}

// WSReply answers one WSRequest.
type WSReply struct {
	ID     string `json:"id,omitempty"`
	Op     string `json:"op"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	if s.cfg.MaxBodyBytes > 0 {
		conn.SetReadLimit(s.cfg.MaxBodyBytes)
	}
	if s.metrics != nil {
		s.metrics.ActiveSockets.Inc()
		defer s.metrics.ActiveSockets.Dec()
	}

	log := s.logger.With().Str("requestId", RequestIDFrom(r.Context())).Logger()
	log.Debug().Str("remote", r.RemoteAddr).Msg("WebSocket connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		reply := s.dispatch(data)
		if err := conn.WriteJSON(reply); err != nil {
			log.Warn().Err(err).Msg("WebSocket write error")
			return
		}
	}
}

func (s *Server) dispatch(data []byte) WSReply {
	var env WSRequest
	if err := json.Unmarshal(data, &env); err != nil {
		return WSReply{Op: "error", Error: "invalid message: " + err.Error()}
	}
	reply := WSReply{ID: env.ID, Op: env.Op}

	result, err := s.run(env.Op, data)
	if err != nil {
		reply.Error = err.Error()
		return reply
	}
	reply.Result = result
	return reply
}

func (s *Server) run(op string, data []byte) (any, error) {
	switch op {
	case "visemes":
		var req VisemeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		return s.visemes(req), nil
	case "alignment":
		var req AlignmentRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		return s.alignment(req), nil
	case "approximate":
		var req ApproximateRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		return s.approximate(req)
	default:
		return nil, fmt.Errorf("unknown op %q", op)
	}
}
