// Package dashboard serves the operator HTTP API: shooter state, vision
// ingest, commands, tunables and a websocket telemetry stream.
package dashboard

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/sequence"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/shooter"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/targeting"
	"github.com/tigerbot-team/tigerbot/go-shooter/pkg/tunable"
)

const clientBuffer = 256

// Defaults fill in command parameters the request leaves out.
type Defaults struct {
	OuttakePower float64
	KickPower    float64
}

type VisionSink interface {
	Update(targeting.Sample) error
}

type Server struct {
	cmd      sequence.Commander
	shooter  *shooter.Shooter
	runner   *sequence.Runner
	vision   VisionSink
	tunables *tunable.Tunables
	defaults Defaults
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader

	lock    sync.Mutex
	clients map[chan Message]struct{}
	cancel  context.CancelFunc
	seqDone chan struct{}
	ctx     context.Context
}

// Message is one telemetry value as sent over the websocket.
type Message struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

func New(
	ctx context.Context,
	cmd sequence.Commander,
	s *shooter.Shooter,
	runner *sequence.Runner,
	vision VisionSink,
	tunables *tunable.Tunables,
	defaults Defaults,
	logger *zap.SugaredLogger,
) *Server {
	return &Server{
		ctx:      ctx,
		cmd:      cmd,
		shooter:  s,
		runner:   runner,
		vision:   vision,
		tunables: tunables,
		defaults: defaults,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: map[chan Message]struct{}{},
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.getState)
		r.Post("/vision", s.postVision)
		r.Post("/command/{name}", s.postCommand)
		r.Post("/pose/{pose}", s.postPose)
		r.Post("/sequence/{name}", s.postSequence)
		r.Get("/tunables", s.getTunables)
		r.Post("/tunables/{name}", s.postTunable)
	})
	r.Route("/ws", func(r chi.Router) {
		r.Get("/telemetry", s.telemetry)
	})
	return r
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	errC := make(chan error, 1)
	go func() {
		s.logger.Infow("Dashboard: listening", "addr", addr)
		errC <- srv.ListenAndServe()
	}()
	select {
	case err := <-errC:
		return errors.Wrap(err, "dashboard")
	case <-ctx.Done():
	}
	s.cancelSequence()
	if err := srv.Shutdown(context.Background()); err != nil {
		return errors.Wrap(err, "dashboard shutdown")
	}
	return nil
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.shooter.LatestSnapshot())
}

type visionPayload struct {
	targeting.Sample
}

func (v *visionPayload) Bind(r *http.Request) error {
	return nil
}

func (s *Server) postVision(w http.ResponseWriter, r *http.Request) {
	data := &visionPayload{}
	if err := render.Bind(r, data); err != nil {
		_ = render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	if err := s.vision.Update(data.Sample); err != nil {
		_ = render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	render.NoContent(w, r)
}

// Args are the numeric parameters of a command, taken from the query
// string.
type Args map[string]float64

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadArgument    = errors.New("bad argument")
)

func (a Args) get(name string, def float64, required bool) (float64, error) {
	v, ok := a[name]
	if !ok {
		if required {
			return 0, errors.Wrapf(ErrBadArgument, "missing %q", name)
		}
		return def, nil
	}
	return v, nil
}

func (a Args) power(def float64) (float64, error) {
	p, err := a.get("power", def, false)
	if err != nil {
		return 0, err
	}
	if p < -1 || p > 1 {
		return 0, errors.Wrapf(ErrBadArgument, "power %v out of range", p)
	}
	return p, nil
}

func argsFrom(r *http.Request) (Args, error) {
	args := Args{}
	for name, values := range r.URL.Query() {
		if len(values) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(values[0], 64)
		if err != nil {
			return nil, errors.Wrapf(ErrBadArgument, "%q: %v", name, err)
		}
		args[name] = v
	}
	return args, nil
}

// Command runs a named one-shot command on the control goroutine.
func (s *Server) Command(ctx context.Context, name string, args Args) error {
	var f func(sh *shooter.Shooter)
	switch name {
	case "intake":
		f = (*shooter.Shooter).EnterIntake
	case "stop":
		s.cancelSequence()
		f = (*shooter.Shooter).Stop
	case "enable", "disable":
		enabled := name == "enable"
		f = func(sh *shooter.Shooter) { sh.SetMechanismEnabled(enabled) }
	case "toggle-enable":
		f = func(sh *shooter.Shooter) { sh.SetMechanismEnabled(!sh.MechanismEnabled()) }
	case "autoaim-on", "autoaim-off":
		enabled := name == "autoaim-on"
		f = func(sh *shooter.Shooter) { sh.SetAutoAimEnabled(enabled) }
	case "toggle-autoaim":
		f = func(sh *shooter.Shooter) { sh.SetAutoAimEnabled(!sh.AutoAimEnabled()) }
	case "outtake":
		power, err := args.power(s.defaults.OuttakePower)
		if err != nil {
			return err
		}
		f = func(sh *shooter.Shooter) { sh.EnterOuttake(power) }
	case "kick":
		power, err := args.power(s.defaults.KickPower)
		if err != nil {
			return err
		}
		f = func(sh *shooter.Shooter) { sh.Kick(power) }
	case "angle":
		v, err := args.get("value", 0, true)
		if err != nil {
			return err
		}
		f = func(sh *shooter.Shooter) { sh.SetTargetAngle(v) }
	case "velocity":
		v, err := args.get("value", 0, true)
		if err != nil {
			return err
		}
		f = func(sh *shooter.Shooter) { sh.SetTargetVelocity(v) }
	default:
		return errors.Wrap(ErrUnknownCommand, name)
	}

	s.logger.Infow("Dashboard: command", "name", name)
	return s.cmd.Do(ctx, func() { f(s.shooter) })
}

// Pose starts moving the pivot to the named pose in the background.
func (s *Server) Pose(name string) error {
	pose, err := sequence.ParsePose(name)
	if err != nil {
		return errors.Wrap(ErrUnknownCommand, err.Error())
	}
	s.startSequence("pose "+pose.String(), func(ctx context.Context) error {
		return s.runner.PivotTo(ctx, pose)
	})
	return nil
}

// Sequence starts a named multi-step sequence in the background,
// replacing any sequence already running.
func (s *Server) Sequence(name string, args Args) error {
	var f func(ctx context.Context) error
	switch name {
	case "intake":
		f = s.runner.IntakeSequence
	case "intake-until-acquired":
		f = s.runner.IntakeUntilAcquired
	case "outtake":
		power, err := args.power(s.defaults.OuttakePower)
		if err != nil {
			return err
		}
		f = func(ctx context.Context) error { return s.runner.OuttakeSequence(ctx, power) }
	case "shoot":
		rpm, err := args.get("rpm", 0, true)
		if err != nil {
			return err
		}
		power, err := args.power(s.defaults.KickPower)
		if err != nil {
			return err
		}
		f = func(ctx context.Context) error { return s.runner.Shoot(ctx, rpm, power) }
	default:
		return errors.Wrap(ErrUnknownCommand, name)
	}
	s.startSequence(name, f)
	return nil
}

func renderErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrUnknownCommand):
		_ = render.Render(w, r, ErrNotFound)
	case errors.Is(err, ErrBadArgument):
		_ = render.Render(w, r, ErrInvalidRequest(err))
	default:
		_ = render.Render(w, r, ErrUnavailable(err))
	}
}

func (s *Server) postCommand(w http.ResponseWriter, r *http.Request) {
	args, err := argsFrom(r)
	if err != nil {
		renderErr(w, r, err)
		return
	}
	if err := s.Command(r.Context(), chi.URLParam(r, "name"), args); err != nil {
		renderErr(w, r, err)
		return
	}
	render.JSON(w, r, s.shooter.LatestSnapshot())
}

func (s *Server) postPose(w http.ResponseWriter, r *http.Request) {
	if err := s.Pose(chi.URLParam(r, "pose")); err != nil {
		renderErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) postSequence(w http.ResponseWriter, r *http.Request) {
	args, err := argsFrom(r)
	if err != nil {
		renderErr(w, r, err)
		return
	}
	if err := s.Sequence(chi.URLParam(r, "name"), args); err != nil {
		renderErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// startSequence cancels any running sequence and starts f in the
// background once the cancelled one has returned. The swap happens under the
// lock so cancelling the latest sequence always stops all of them.
func (s *Server) startSequence(name string, f func(ctx context.Context) error) {
	s.lock.Lock()
	prevCancel, prevDone := s.cancel, s.seqDone
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.seqDone = done
	s.lock.Unlock()

	if prevCancel != nil {
		prevCancel()
	}

	s.logger.Infow("Dashboard: sequence started", "name", name)
	go func() {
		defer close(done)
		defer cancel()
		if prevDone != nil {
			<-prevDone
		}
		if ctx.Err() != nil {
			s.logger.Infow("Dashboard: sequence cancelled before start", "name", name)
			return
		}
		if err := f(ctx); err != nil {
			s.logger.Warnw("Dashboard: sequence failed", "name", name, "error", err)
			return
		}
		s.logger.Infow("Dashboard: sequence finished", "name", name)
	}()
}

func (s *Server) cancelSequence() {
	s.lock.Lock()
	cancel, done := s.cancel, s.seqDone
	s.cancel, s.seqDone = nil, nil
	s.lock.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// WaitSequence blocks until the running sequence, if any, finishes.
func (s *Server) WaitSequence() {
	s.lock.Lock()
	done := s.seqDone
	s.lock.Unlock()
	if done != nil {
		<-done
	}
}

func (s *Server) getTunables(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.tunables.Values())
}

func (s *Server) postTunable(w http.ResponseWriter, r *http.Request) {
	args, err := argsFrom(r)
	if err != nil {
		renderErr(w, r, err)
		return
	}
	delta, err := args.get("delta", 0, true)
	if err != nil {
		renderErr(w, r, err)
		return
	}
	v, err := s.tunables.Adjust(chi.URLParam(r, "name"), delta)
	if err != nil {
		_ = render.Render(w, r, ErrNotFound)
		return
	}
	render.JSON(w, r, map[string]float64{chi.URLParam(r, "name"): v})
}

// Publish implements telemetry.Sink. Slow clients drop values rather than
// block the control loop.
func (s *Server) Publish(name string, value interface{}) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for c := range s.clients {
		select {
		case c <- Message{Name: name, Value: value}:
		default:
		}
	}
}

func (s *Server) addClient() chan Message {
	c := make(chan Message, clientBuffer)
	s.lock.Lock()
	s.clients[c] = struct{}{}
	s.lock.Unlock()
	return c
}

func (s *Server) removeClient(c chan Message) {
	s.lock.Lock()
	delete(s.clients, c)
	s.lock.Unlock()
}

func (s *Server) telemetry(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("Dashboard: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := s.addClient()
	defer s.removeClient(c)
	s.logger.Infow("Dashboard: telemetry client connected", "remote", conn.RemoteAddr())

	// Reads only to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case m := <-c:
			if err := conn.WriteJSON(m); err != nil {
				s.logger.Infow("Dashboard: telemetry client gone", "error", err)
				return
			}
		}
	}
}
