package streamer

import (
	"context"

	"github.com/saikamal-replicantsys/rtsp-demo/pkg/config"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/logger"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/monitoring"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/network/httpx"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/pipeline"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/service"
)

// App glues the signaling surface, the coordinator and the engine
// together into one runnable unit.
type App struct {
	services service.Group
	manager  *pipeline.Manager
	coord    *Coordinator
	feed     *EventFeed
	log      *logger.Logger
}

func New(conf config.StreamerConfig, log *logger.Logger) (*App, error) {
	manager, err := pipeline.NewManager(conf, log)
	if err != nil {
		return nil, err
	}
	coord := NewCoordinator(WithManager(manager), conf.Streamer, log)
	feed := NewEventFeed(coord, log)

	httpSrv, err := NewHTTPServer(conf, coord, feed, log)
	if err != nil {
		return nil, err
	}

	app := &App{manager: manager, coord: coord, feed: feed, log: log}
	app.services.Add(httpSrv)
	if conf.Monitoring.IsEnabled() {
		if m := monitoring.New(conf.Monitoring, "streamer", log); m != nil {
			app.services.Add(m)
		}
	}
	return app, nil
}

func NewHTTPServer(conf config.StreamerConfig, coord *Coordinator, feed *EventFeed, log *logger.Logger) (*httpx.Server, error) {
	return httpx.NewServer(
		conf.Server.GetAddr(),
		func(s *httpx.Server) httpx.Handler {
			mux := s.Mux()
			Routes(mux, coord, feed, log)
			return mux
		},
		httpx.WithServerConfig(conf.Server),
		httpx.WithLogger(log),
	)
}

func (a *App) Run() { a.services.Start() }

// Shutdown stops signaling first, then the session and the engine
// context, each bounded by ctx.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.services.Shutdown(ctx)
	a.feed.Close()
	a.coord.Stop()
	if e := a.manager.Shutdown(ctx); e != nil && err == nil {
		err = e
	}
	return err
}
