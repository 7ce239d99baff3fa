// Package stream runs websocket streaming sessions. Each session applies
// the frame pipeline to inbound frames strictly sequentially and answers
// every received message, so one bad frame never ends the connection.
package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/kidney-seg/internal/faults"
	"github.com/example/kidney-seg/internal/imgcodec"
	"github.com/example/kidney-seg/internal/logging"
	"github.com/example/kidney-seg/internal/pipeline"
)

// Inbound frames above this size are rejected by the websocket library with
// a transport error.
const maxFrameBytes = 32 << 20

// framePayload is the client's per-frame message.
type framePayload struct {
	Image string `json:"image"`
}

// frameReply is sent for every successfully processed frame.
type frameReply struct {
	Success          bool    `json:"success"`
	SegmentationMask string  `json:"segmentation_mask"`
	Overlay          string  `json:"overlay"`
	ProcessingTime   float64 `json:"processing_time"`
	FrameNumber      int64   `json:"frame_number"`
}

// frameError is sent for every failed frame. The frame number is echoed so
// the client can detect gaps even across failures.
type frameError struct {
	Success     bool   `json:"success"`
	Error       string `json:"error"`
	FrameNumber int64  `json:"frame_number"`
}

// Session is one live streaming connection. Frames are numbered from 1 and
// the counter advances for every received message, failed ones included.
// State is connection-local; nothing is shared across sessions.
type Session struct {
	id         string
	conn       *websocket.Conn
	pipe       *pipeline.FramePipeline
	logger     *zap.Logger
	frameCount int64
}

// NewSession wraps an upgraded websocket connection. The transport handshake
// has already happened; the session is open until the connection drops.
func NewSession(conn *websocket.Conn, pipe *pipeline.FramePipeline, logger *zap.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:     id,
		conn:   conn,
		pipe:   pipe,
		logger: logging.WithSession(logger.Named("session"), id),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Frames returns the number of messages received so far.
func (s *Session) Frames() int64 { return s.frameCount }

// Run drives the receive/process/reply loop until the connection closes or
// an unrecoverable transport error occurs. Per-frame decode and processing
// failures are converted into error-tagged replies; only transport failures
// end the loop.
func (s *Session) Run(ctx context.Context) {
	s.logger.Info("client connected")
	defer s.conn.Close()

	s.conn.SetReadLimit(maxFrameBytes)

	for {
		if ctx.Err() != nil {
			s.logger.Info("session context canceled", zap.Int64("frames", s.frameCount))
			return
		}

		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("client disconnected", zap.Int64("frames", s.frameCount))
			} else {
				s.logger.Warn("transport error",
					zap.Error(faults.Transport("session.read", err)),
					zap.Int64("frames", s.frameCount))
			}
			return
		}

		s.frameCount++
		reply := s.handleFrame(ctx, msgType, data)

		payload, err := json.Marshal(reply)
		if err != nil {
			s.logger.Error("failed to marshal reply", zap.Error(err))
			continue
		}
		if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.logger.Warn("transport error",
				zap.Error(faults.Transport("session.write", err)),
				zap.Int64("frames", s.frameCount))
			return
		}
	}
}

// handleFrame processes one inbound message and always produces a reply.
func (s *Session) handleFrame(ctx context.Context, msgType int, data []byte) any {
	if msgType != websocket.TextMessage {
		return s.fail(fmt.Errorf("expected text frame"), "Expected a text frame")
	}

	var frame framePayload
	if err := json.Unmarshal(data, &frame); err != nil {
		return s.fail(faults.Input("session.decode_json", err), "Invalid JSON data")
	}
	if frame.Image == "" {
		return s.fail(faults.Input("session.decode_json", fmt.Errorf("missing image field")), "No image data provided")
	}

	img, err := imgcodec.DecodeBase64(frame.Image)
	if err != nil {
		return s.fail(err, fmt.Sprintf("Processing failed: %v", err))
	}

	result, elapsed, err := s.pipe.Process(ctx, img)
	if err != nil {
		s.logger.Warn("frame failed",
			zap.Int64("frame", s.frameCount),
			zap.String("kind", faults.KindOf(err).String()),
			zap.Duration("elapsed", elapsed))
		return frameError{Error: fmt.Sprintf("Processing failed: %v", err), FrameNumber: s.frameCount}
	}

	mask, err := imgcodec.EncodeBase64(result.Mask)
	if err != nil {
		return s.fail(err, fmt.Sprintf("Processing failed: %v", err))
	}
	overlay, err := imgcodec.EncodeBase64(result.Overlay)
	if err != nil {
		return s.fail(err, fmt.Sprintf("Processing failed: %v", err))
	}

	return frameReply{
		Success:          true,
		SegmentationMask: mask,
		Overlay:          overlay,
		ProcessingTime:   result.ProcessingTime.Seconds(),
		FrameNumber:      s.frameCount,
	}
}

func (s *Session) fail(err error, message string) frameError {
	s.logger.Warn("frame rejected",
		zap.Int64("frame", s.frameCount),
		zap.String("kind", faults.KindOf(err).String()),
		zap.Error(err))
	return frameError{Error: message, FrameNumber: s.frameCount}
}
