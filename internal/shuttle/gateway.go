package shuttle

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shuttlegw/gateway/internal/config"
)

// Gateway is the explicit, assembled context the original source instead
// exposes as a handful of process-wide singletons (get_shuttle_manager,
// get_connection_manager, get_shuttle_listener, get_redis_storage). One
// Gateway is built at startup and passed to every collaborator, so there
// is no module-import-order hazard and tests can build as many
// independent Gateways as they like.
type Gateway struct {
	Config   config.GatewayConfig
	Logger   *slog.Logger
	Registry *Registry
	Listener *Listener

	Handles         map[string]*Handle
	CommandRegistry *CommandRegistry
	Dispatcher      *Dispatcher
	Scheduler       *Scheduler
}

// New assembles a Gateway from configuration: one Handle per configured
// shuttle, the shared Connection Registry and Listener, the command
// registry, the Dispatcher, and the Scheduler — all wired together so the
// state engine's acks always go out over whichever link (inbound or
// outbound-dialed) is currently registered for that shuttle.
func New(cfg config.GatewayConfig, logger *slog.Logger) *Gateway {
	registry := NewRegistry(logger)

	handles := make(map[string]*Handle, len(cfg.Shuttles))
	shuttleHosts := make(map[string]string, len(cfg.Shuttles))
	orderedIDs := make([]string, 0, len(cfg.Shuttles))
	for id, sc := range cfg.Shuttles {
		handles[id] = NewHandle(id, sc, registry, cfg, logger)
		shuttleHosts[id] = sc.Host
		orderedIDs = append(orderedIDs, id)
	}
	sort.Strings(orderedIDs)

	resolver := newShuttleResolver(shuttleHosts, orderedIDs)
	listener := NewListener(cfg.ShuttleListenerPort, registry, resolver, cfg.TCPReadTimeout, logger)

	// Register every configured shuttle's engine handler up front: an
	// inbound dial (Scenario F) must be ack-able the instant the Listener
	// accepts it, not only once an outbound dispatch first dials out.
	for id, h := range handles {
		listener.RegisterHandler(id, h.Engine.HandleLine)
	}

	commandRegistry := NewCommandRegistry(cfg.CommandProcessorWorkers)
	dispatcher := NewDispatcher(handles, cfg.StockToShuttle, commandRegistry)
	scheduler := NewScheduler(dispatcher, handles, orderedIDs, cfg.CommandProcessorWorkers, 500*time.Millisecond, logger)

	return &Gateway{
		Config:          cfg,
		Logger:          logger,
		Registry:        registry,
		Listener:        listener,
		Handles:         handles,
		CommandRegistry: commandRegistry,
		Dispatcher:      dispatcher,
		Scheduler:       scheduler,
	}
}

// Run starts the listener accept loop and the scheduler workers, joined
// with errgroup the way server.go's tunnelHandler joins its two forward
// fibers: either side returning ends the group.
func (g *Gateway) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return g.Listener.Serve(ctx) })
	eg.Go(func() error { return g.Scheduler.Run(ctx) })
	return eg.Wait()
}
