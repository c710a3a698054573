package controller

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"ai-notebook-assistant/internal/constant"
	"ai-notebook-assistant/internal/dto"
	"ai-notebook-assistant/internal/pkg/logger"
	"ai-notebook-assistant/internal/pkg/serverutils"
	"ai-notebook-assistant/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/valyala/fasthttp"
)

const (
	chatEndpoint   = "ClientLLMResponse"
	wsReadLimit    = 4 << 20
	wsWriteWait    = 10 * time.Second
	wsRequestWait  = 30 * time.Second
	sseDataPrefix  = "data: "
	sseContentType = "text/event-stream; charset=utf-8"
)

var errClientGone = errors.New("client disconnected")

type IChatController interface {
	RegisterRoutes(r fiber.Router)
	StreamSSE(ctx *fiber.Ctx) error
	StreamWebSocket(ctx *fiber.Ctx) error
}

type chatController struct {
	service  service.IChatService
	identity fiber.Handler
	sentinel string
	logger   logger.ILogger
}

func NewChatController(svc service.IChatService, identity fiber.Handler, sentinel string, log logger.ILogger) IChatController {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &chatController{
		service:  svc,
		identity: identity,
		sentinel: sentinel,
		logger:   log,
	}
}

func (c *chatController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/v1/notebook")
	h.Use(c.identity)
	h.Post("/sse/"+chatEndpoint, c.StreamSSE)
	h.Get("/ws/"+chatEndpoint, c.StreamWebSocket)
}

// StreamSSE answers one message as an event stream of data records, then
// the sentinel record.
func (c *chatController) StreamSSE(ctx *fiber.Ctx) error {
	sourceIDs, noteIDs, err := parseSelection(ctx)
	if err != nil {
		return err
	}

	var req dto.StreamChatRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	ex, err := c.service.Prepare(ctx.UserContext(), &service.ExchangeRequest{
		UserID:    serverutils.UserID(ctx),
		Transport: constant.ChatTransportSSE,
		SourceIDs: sourceIDs,
		NoteIDs:   noteIDs,
		Turns:     []dto.ChatTurn{{Role: constant.ChatRoleUser, Content: req.Message}},
	})
	if err != nil {
		return prepareError(err)
	}

	ctx.Set(fiber.HeaderContentType, sseContentType)
	ctx.Set(fiber.HeaderCacheControl, "no-cache")
	ctx.Set(fiber.HeaderConnection, "keep-alive")
	ctx.Set("X-Accel-Buffering", "no")

	// The fiber ctx is recycled once the handler returns; the writer only
	// uses values captured here.
	svc, sentinel, log := c.service, c.sentinel, c.logger
	ctx.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		streamCtx, cancel := context.WithCancel(context.Background())
		defer cancel()

		framer := newRecordFramer(w)
		err := svc.Stream(streamCtx, ex, func(delta string) error {
			if err := framer.Write(delta); err != nil {
				return errClientGone
			}
			return nil
		})
		if err != nil {
			// Ending without the sentinel; the client sees a plain close.
			if !errors.Is(err, errClientGone) {
				framer.Flush()
			}
			log.Warn("ChatRelay", "Event stream ended early", map[string]interface{}{"exchange_id": ex.ID.String(), "error": err.Error()})
			return
		}
		if err := framer.Flush(); err != nil {
			return
		}

		if _, err := w.WriteString(sseDataPrefix + sentinel + "\n\n"); err == nil {
			w.Flush()
		}
	}))
	return nil
}

// StreamWebSocket reads the turn list as the first message and answers with
// one text message per delta followed by the sentinel.
func (c *chatController) StreamWebSocket(ctx *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(ctx) {
		return fiber.ErrUpgradeRequired
	}
	sourceIDs, noteIDs, err := parseSelection(ctx)
	if err != nil {
		return err
	}
	userID := serverutils.UserID(ctx)

	return websocket.New(func(conn *websocket.Conn) {
		conn.SetReadLimit(wsReadLimit)
		c.serveSocket(conn, &service.ExchangeRequest{
			UserID:    userID,
			Transport: constant.ChatTransportWebSocket,
			SourceIDs: sourceIDs,
			NoteIDs:   noteIDs,
		})
	})(ctx)
}

func (c *chatController) serveSocket(conn *websocket.Conn, req *service.ExchangeRequest) {
	conn.SetReadDeadline(time.Now().Add(wsRequestWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		c.logger.Warn("ChatRelay", "No turn list received", map[string]interface{}{"error": err.Error()})
		return
	}
	conn.SetReadDeadline(time.Time{})

	var turns dto.StreamChatTurns
	if err := json.Unmarshal(data, &turns.Turns); err != nil {
		closeSocket(conn, websocket.CloseUnsupportedData, "turn list must be a JSON array")
		return
	}
	if err := serverutils.ValidateRequest(turns); err != nil {
		closeSocket(conn, websocket.ClosePolicyViolation, err.Error())
		return
	}
	req.Turns = turns.Turns

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Only control frames are expected from here on; a read error means
	// the peer left.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ex, err := c.service.Prepare(ctx, req)
	if err != nil {
		code := websocket.CloseInternalServerErr
		if errors.Is(err, service.ErrNoQuestion) || errors.Is(err, service.ErrQuestionTooLong) || errors.Is(err, service.ErrNoteAccess) {
			code = websocket.ClosePolicyViolation
		}
		closeSocket(conn, code, prepareError(err).Error())
		return
	}

	err = c.service.Stream(ctx, ex, func(delta string) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(delta)); err != nil {
			return errClientGone
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, errClientGone) {
			closeSocket(conn, websocket.CloseInternalServerErr, constant.ChatFailureMessage)
		}
		return
	}

	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(c.sentinel)); err != nil {
		return
	}
	closeSocket(conn, websocket.CloseNormalClosure, "")
}

func closeSocket(conn *websocket.Conn, code int, reason string) {
	// Control frame payloads are capped at 125 bytes.
	if len(reason) > 120 {
		reason = reason[:120]
	}
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func parseSelection(ctx *fiber.Ctx) ([]int64, []int64, error) {
	sourceIDs, err := parseIDs(ctx.Query("source"))
	if err != nil {
		return nil, nil, fiber.NewError(fiber.StatusBadRequest, "Invalid source ids")
	}
	noteIDs, err := parseIDs(ctx.Query("notes"))
	if err != nil {
		return nil, nil, fiber.NewError(fiber.StatusBadRequest, "Invalid note ids")
	}
	return sourceIDs, noteIDs, nil
}

func parseIDs(csv string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func prepareError(err error) *fiber.Error {
	switch {
	case errors.Is(err, service.ErrNoQuestion), errors.Is(err, service.ErrQuestionTooLong):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNoteAccess):
		return fiber.NewError(fiber.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrContextLoad):
		return fiber.NewError(fiber.StatusBadGateway, "Selected notes are unavailable")
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "Internal server error")
	}
}
