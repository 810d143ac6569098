package httpapi

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/gwent/internal/protocol"
	"github.com/ent0n29/gwent/internal/redact"
	"github.com/ent0n29/gwent/internal/relay"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsIdleTimeout  = 120 * time.Second
	wsReadLimit    = 1 << 20
)

// outboundFrame is one JSON text frame, optionally followed by a binary
// frame. Both are written back to back by the connection's writer.
type outboundFrame struct {
	kind  protocol.MessageType
	msg   any
	audio []byte
}

func (s *Server) handleTTSWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan outboundFrame, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case frame := <-outbound:
				if err := writeFrame(conn, frame); err != nil {
					s.metrics.ObserveWSWriteError()
					cancel()
					return
				}
				s.metrics.ObserveWSMessage("outbound", string(frame.kind))
			}
		}
	}()

	send := func(frame outboundFrame) {
		select {
		case <-ctx.Done():
		case outbound <- frame:
		}
	}

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		return nil
	})

	var workers sync.WaitGroup
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(errorFrame("", "invalid_client_message", err.Error(), false))
			continue
		}
		req, ok := parsed.(protocol.Synthesize)
		if !ok {
			continue
		}
		s.metrics.ObserveWSMessage("inbound", string(req.Type))

		if strings.TrimSpace(req.RequestID) == "" {
			req.RequestID = uuid.NewString()
		}
		if code, msg := s.validateSynthesis(req.Text, req.Voice, req.SpeakingRate); code != "" {
			send(errorFrame(req.RequestID, code, msg, false))
			continue
		}

		workers.Add(1)
		go func() {
			defer workers.Done()
			send(s.synthesizeFrame(ctx, req))
		}()
	}

	cancel()
	workers.Wait()
	<-writerDone
}

func (s *Server) synthesizeFrame(ctx context.Context, req protocol.Synthesize) outboundFrame {
	res, err := s.relay.Synthesize(ctx, relay.Request{
		Text:            req.Text,
		VoiceID:         req.Voice,
		SpeakingRate:    req.SpeakingRate,
		PreferredFormat: req.Format,
		MaxLength:       req.MaxLength,
	})
	if err != nil {
		_, code, retryable := synthesisErrorStatus(err)
		if ctx.Err() == nil {
			s.logger.Warn("websocket synthesis failed",
				"request_id", req.RequestID,
				"voice", req.Voice,
				"code", code,
				"error", redact.ForLog(err.Error()))
		}
		return errorFrame(req.RequestID, code, err.Error(), retryable)
	}
	audio := res.Audio
	if audio == nil {
		audio = []byte{}
	}
	return outboundFrame{
		kind: protocol.TypeAudioReady,
		msg: protocol.AudioReady{
			Type:        protocol.TypeAudioReady,
			RequestID:   req.RequestID,
			ContentType: res.ContentType,
			Bytes:       len(audio),
		},
		audio: audio,
	}
}

func errorFrame(requestID, code, detail string, retryable bool) outboundFrame {
	return outboundFrame{
		kind: protocol.TypeErrorEvent,
		msg: protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			RequestID: requestID,
			Code:      code,
			Retryable: retryable,
			Detail:    detail,
		},
	}
}

func writeFrame(conn *websocket.Conn, frame outboundFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(frame.msg); err != nil {
		return err
	}
	if frame.audio == nil {
		return nil
	}
	return conn.WriteMessage(websocket.BinaryMessage, frame.audio)
}
