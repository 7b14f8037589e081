// Package httpapi hosts glimpse sessions over HTTP. Every request is one
// stateless controller invocation; the caller honors the returned delay and
// calls tick again.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rbright/glimpse/internal/capture"
	"github.com/rbright/glimpse/internal/fsm"
	"github.com/rbright/glimpse/internal/loop"
	"github.com/rbright/glimpse/internal/store"
)

// Controller is the subset of loop.Controller the HTTP host drives.
type Controller interface {
	Start(ctx context.Context, id string) (loop.Outcome, error)
	Resume(ctx context.Context, id string) (loop.Outcome, error)
	Submit(ctx context.Context, id string, frame capture.Frame) (loop.Outcome, error)
	End(ctx context.Context, id string) (loop.Outcome, error)
	State(ctx context.Context, id string) (fsm.LoopState, error)
}

// AudioStore serves the last spoken clip of a session.
type AudioStore interface {
	Audio(ctx context.Context, id string) ([]byte, error)
}

type Options struct {
	MaxBodyBytes int
	ReadTimeout  time.Duration
	// NewID mints session ids; defaults to random UUIDs.
	NewID func() string
	Now   func() time.Time
}

type Server struct {
	app    *fiber.App
	ctrl   Controller
	audio  AudioStore
	logger *slog.Logger
	opts   Options
}

// SessionResponse is the JSON body returned by every session route.
type SessionResponse struct {
	Session   string        `json:"session"`
	Mode      fsm.Mode      `json:"mode"`
	Status    fsm.Status    `json:"status"`
	Version   uint64        `json:"version"`
	Cycle     uint64        `json:"cycle"`
	Utterance string        `json:"utterance,omitempty"`
	Last      string        `json:"last_utterance,omitempty"`
	Speech    string        `json:"speech,omitempty"`
	Next      *NextResponse `json:"next,omitempty"`
}

type NextResponse struct {
	Scheduled bool  `json:"scheduled"`
	DelayMS   int64 `json:"delay_ms"`
}

func New(logger *slog.Logger, ctrl Controller, audio AudioStore, opts Options) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 16 << 20
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		ctrl:   ctrl,
		audio:  audio,
		logger: logger.With("component", "httpapi"),
		opts:   opts,
	}

	app := fiber.New(fiber.Config{
		AppName:               "glimpse",
		DisableStartupMessage: true,
		BodyLimit:             opts.MaxBodyBytes,
		ReadTimeout:           opts.ReadTimeout,
		ErrorHandler:          s.handleError,
	})

	api := app.Group("/v1/sessions")
	api.Post("/", s.handleCreate)
	api.Get("/:id", s.handleState)
	api.Post("/:id/frames", s.handleFrame)
	api.Post("/:id/tick", s.handleTick)
	api.Get("/:id/audio", s.handleAudio)
	api.Delete("/:id", s.handleEnd)

	s.app = app
	return s
}

// App exposes the fiber app for tests and embedding.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("http host listening", "addr", addr)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) handleCreate(c *fiber.Ctx) error {
	id := s.opts.NewID()
	out, err := s.ctrl.Start(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(outcomeResponse(out))
}

func (s *Server) handleState(c *fiber.Ctx) error {
	state, err := s.ctrl.State(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(stateResponse(state))
}

func (s *Server) handleFrame(c *fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "frame body is empty")
	}
	// fasthttp reuses the request buffer after the handler returns.
	data := make([]byte, len(body))
	copy(data, body)

	frame := capture.NewFrame(data, "http", s.opts.Now())
	out, err := s.ctrl.Submit(c.UserContext(), c.Params("id"), frame)
	if err != nil {
		return err
	}
	return c.JSON(outcomeResponse(out))
}

func (s *Server) handleTick(c *fiber.Ctx) error {
	out, err := s.ctrl.Resume(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(outcomeResponse(out))
}

func (s *Server) handleAudio(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := store.ValidateID(id); err != nil {
		return err
	}
	wav, err := s.audio.Audio(c.UserContext(), id)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "audio/wav")
	return c.Send(wav)
}

func (s *Server) handleEnd(c *fiber.Ctx) error {
	out, err := s.ctrl.End(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(outcomeResponse(out))
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", c.Method(),
			"path", c.Path(),
			"error", err.Error(),
		)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, store.ErrInvalidSession):
		return fiber.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, store.ErrVersionConflict), errors.Is(err, fsm.ErrInvalidTransition):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func stateResponse(state fsm.LoopState) SessionResponse {
	return SessionResponse{
		Session: state.SessionID,
		Mode:    state.Mode,
		Status:  state.Status,
		Version: state.Version,
		Cycle:   state.Cycle,
		Last:    state.LastUtterance,
	}
}

func outcomeResponse(out loop.Outcome) SessionResponse {
	resp := stateResponse(out.NextAction.State)
	resp.Utterance = out.Utterance
	resp.Next = &NextResponse{
		Scheduled: out.NextAction.Scheduled,
		DelayMS:   out.NextAction.Delay.Milliseconds(),
	}
	if out.Speech != nil {
		resp.Speech = string(out.Speech.Status)
	}
	return resp
}
