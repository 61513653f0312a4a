package controller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shinji-kodama/proxy-bridge/internal/model"
	"github.com/shinji-kodama/proxy-bridge/internal/relay"
)

// UpstreamRelauncher restarts the named upstream container. The
// Docker-backed implementation lives in internal/docker; tests use a
// recorder.
type UpstreamRelauncher interface {
	Relaunch(ctx context.Context, name string) error
}

// Config holds options for New.
type Config struct {
	// Bridges lists the bridges to manage. Required, already validated
	// by the config loader; New re-validates defensively.
	Bridges []model.BridgeSpec

	// Relauncher restarts upstream containers. Required when any bridge
	// names a container; may be nil otherwise.
	Relauncher UpstreamRelauncher

	// Logger receives structured log output. If nil, slog.Default()
	// is used.
	Logger *slog.Logger

	// Supervisor carries per-supervisor options (forwarder, timeouts).
	// The logger above is applied when the embedded Logger is nil.
	Supervisor relay.SupervisorConfig
}

// slot pairs a bridge spec with the supervisor owning its relay.
type slot struct {
	spec model.BridgeSpec
	sup  *relay.Supervisor
}

// Controller owns the supervisors for all configured bridges and
// coordinates upstream relaunches with relay restarts.
type Controller struct {
	logger     *slog.Logger
	relauncher UpstreamRelauncher
	slots      map[string]*slot

	// order preserves the configuration file's bridge ordering so Start
	// and RelaunchAll behave deterministically.
	order []string
}

// New creates a controller for the given bridges. It fails when a bridge
// is invalid or names a container while no relauncher is configured.
func New(cfg Config) (*Controller, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	supCfg := cfg.Supervisor
	if supCfg.Logger == nil {
		supCfg.Logger = logger
	}

	c := &Controller{
		logger:     logger,
		relauncher: cfg.Relauncher,
		slots:      make(map[string]*slot, len(cfg.Bridges)),
	}

	for _, spec := range cfg.Bridges {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if spec.Container != "" && cfg.Relauncher == nil {
			return nil, fmt.Errorf("bridge %q names container %q but no relauncher is configured", spec.Name, spec.Container)
		}
		if _, exists := c.slots[spec.Name]; exists {
			return nil, fmt.Errorf("duplicate bridge name %q", spec.Name)
		}
		c.slots[spec.Name] = &slot{
			spec: spec,
			sup:  relay.NewSupervisor(supCfg),
		}
		c.order = append(c.order, spec.Name)
	}

	return c, nil
}

// Start starts the relay for every bridge and returns the confirmed
// bound ports keyed by bridge name. Upstream containers are not touched;
// they are assumed to be running (use Relaunch to cycle one).
//
// On the first failure, bridges started so far are stopped again and the
// error is returned: a partially running set of bridges is worse than a
// clean failure the caller can react to.
func (c *Controller) Start(ctx context.Context) (map[string]int, error) {
	ports := make(map[string]int, len(c.order))

	for _, name := range c.order {
		s := c.slots[name]
		port, err := s.sup.Restart(ctx, s.spec.RelayConfig())
		if err != nil {
			c.stopAll()
			return nil, fmt.Errorf("bridge %q: %w", name, err)
		}
		ports[name] = port
	}

	return ports, nil
}

// Relaunch cycles one bridge: the upstream container (when configured)
// is restarted first, then the bridge's relay is restarted against it.
// The confirmed bound port is returned; any failure leaves that bridge
// with no active relay and propagates to the caller.
func (c *Controller) Relaunch(ctx context.Context, name string) (int, error) {
	s, ok := c.slots[name]
	if !ok {
		return 0, model.NewCLIError(model.ExitBridgeNotFound,
			fmt.Sprintf("bridge %q not found", name))
	}

	if s.spec.Container != "" {
		c.logger.Info("relaunching upstream container",
			"bridge", name,
			"container", s.spec.Container,
		)
		if err := c.relauncher.Relaunch(ctx, s.spec.Container); err != nil {
			return 0, fmt.Errorf("relaunch container %q: %w", s.spec.Container, err)
		}
	}

	port, err := s.sup.Restart(ctx, s.spec.RelayConfig())
	if err != nil {
		return 0, fmt.Errorf("bridge %q: %w", name, err)
	}
	return port, nil
}

// RelaunchAll cycles every bridge in configuration order and returns the
// confirmed ports. The first failure aborts the sweep; bridges already
// relaunched keep running.
func (c *Controller) RelaunchAll(ctx context.Context) (map[string]int, error) {
	ports := make(map[string]int, len(c.order))
	for _, name := range c.order {
		port, err := c.Relaunch(ctx, name)
		if err != nil {
			return nil, err
		}
		ports[name] = port
	}
	return ports, nil
}

// Ports returns the confirmed bound port for every bridge with an
// active relay.
func (c *Controller) Ports() map[string]int {
	ports := make(map[string]int, len(c.order))
	for _, name := range c.order {
		if port, active := c.slots[name].sup.Port(); active {
			ports[name] = port
		}
	}
	return ports
}

// Bridges returns the managed bridge specs in configuration order.
func (c *Controller) Bridges() []model.BridgeSpec {
	specs := make([]model.BridgeSpec, 0, len(c.order))
	for _, name := range c.order {
		specs = append(specs, c.slots[name].spec)
	}
	return specs
}

// Close stops every bridge's relay. No background task survives the
// controller.
func (c *Controller) Close() error {
	c.stopAll()
	return nil
}

// stopAll stops all supervisors in reverse start order.
func (c *Controller) stopAll() {
	for i := len(c.order) - 1; i >= 0; i-- {
		c.slots[c.order[i]].sup.Stop()
	}
}
