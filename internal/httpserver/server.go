// Package httpserver exposes the webhook, media stream, and operations
// endpoints over Echo.
package httpserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chadiek/phone-agent/internal/agent"
	"github.com/chadiek/phone-agent/internal/store"
	"github.com/chadiek/phone-agent/internal/stream"
	"github.com/chadiek/phone-agent/internal/telephony"
)

// Terminal Twilio call statuses that should retire the session.
var terminalStatuses = map[string]string{
	"completed": "completed",
	"failed":    "failed",
	"busy":      "busy",
	"no-answer": "no-answer",
	"canceled":  "canceled",
}

type Server struct {
	Echo *echo.Echo

	orch   *agent.Orchestrator
	stream *stream.Handler
	phone  *telephony.Service
	calls  *store.CallStore
	log    *zap.Logger
}

func New(orch *agent.Orchestrator, streamHandler *stream.Handler, phone *telephony.Service, calls *store.CallStore, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{Echo: e, orch: orch, stream: streamHandler, phone: phone, calls: calls, log: log}

	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	auth := telephony.Auth(phone.AuthToken)
	e.POST("/twilio/voice", s.handleVoice, auth)
	e.POST("/twilio/voice/status", s.handleVoiceStatus, auth)

	e.POST("/voice/call", s.handleOutboundCall)
	e.GET("/voice/calls", s.handleRecentCalls)
	e.GET("/voice/stream/:callSid", s.handleStream)

	return s
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// handleVoice answers Twilio's webhook for a ringing call: register the
// session and return TwiML that connects the call audio to our stream
// websocket.
func (s *Server) handleVoice(c echo.Context) error {
	params, _ := c.Get("twilioParams").(map[string]string)
	callSID := params["CallSid"]
	if callSID == "" {
		return c.String(http.StatusBadRequest, "CallSid missing")
	}
	dir := agent.DirectionInbound
	if strings.HasPrefix(params["Direction"], "outbound") {
		dir = agent.DirectionOutbound
	}

	s.orch.StartCall(c.Request().Context(), callSID, params["From"], params["To"], dir)

	streamURL := wsURL(telephony.BuildURL(c.Request(), "/voice/stream/"+callSID))
	doc, err := telephony.StreamTwiML(streamURL)
	if err != nil {
		s.log.Error("render stream twiml", zap.String("call_sid", callSID), zap.Error(err))
		return c.String(http.StatusInternalServerError, "twiml error")
	}
	return c.Blob(http.StatusOK, "text/xml", []byte(doc))
}

// handleVoiceStatus receives call lifecycle callbacks and retires the
// session once Twilio reports a terminal status.
func (s *Server) handleVoiceStatus(c echo.Context) error {
	params, _ := c.Get("twilioParams").(map[string]string)
	callSID := params["CallSid"]
	callStatus := params["CallStatus"]
	s.log.Info("call status", zap.String("call_sid", callSID), zap.String("status", callStatus))

	if status, terminal := terminalStatuses[callStatus]; terminal {
		if sess, ok := s.orch.Registry().Get(callSID); ok {
			s.orch.Retire(context.Background(), sess, status, "status callback "+callStatus)
		}
	}
	return c.String(http.StatusOK, "OK")
}

type outboundCallRequest struct {
	ToNumber string `json:"to_number"`
}

type outboundCallResponse struct {
	CallSID string `json:"call_sid"`
}

// handleOutboundCall places an agent-initiated call to the given number.
func (s *Server) handleOutboundCall(c echo.Context) error {
	var req outboundCallRequest
	if err := c.Bind(&req); err != nil || req.ToNumber == "" {
		return c.String(http.StatusBadRequest, "to_number required")
	}

	voiceURL := telephony.BuildURL(c.Request(), "/twilio/voice")
	statusURL := telephony.BuildURL(c.Request(), "/twilio/voice/status")
	callSID, err := s.phone.MakeCall(req.ToNumber, voiceURL, statusURL)
	if err != nil {
		s.log.Error("outbound call", zap.String("to", req.ToNumber), zap.Error(err))
		return c.String(http.StatusBadGateway, "call failed")
	}

	s.orch.StartCall(c.Request().Context(), callSID, "", req.ToNumber, agent.DirectionOutbound)
	return c.JSON(http.StatusCreated, outboundCallResponse{CallSID: callSID})
}

func (s *Server) handleRecentCalls(c echo.Context) error {
	logs, err := s.calls.Recent(c.Request().Context(), 50)
	if err != nil {
		s.log.Error("list calls", zap.Error(err))
		return c.String(http.StatusInternalServerError, "query failed")
	}
	return c.JSON(http.StatusOK, logs)
}

func (s *Server) handleStream(c echo.Context) error {
	callSID := c.Param("callSid")
	s.stream.ServeStream(c.Response(), c.Request(), callSID)
	return nil
}

func wsURL(httpURL string) string {
	if strings.HasPrefix(httpURL, "https://") {
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	}
	return "ws://" + strings.TrimPrefix(httpURL, "http://")
}
