package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/vk/computergrid/internal/broadcast"
	"github.com/vk/computergrid/internal/computer"
	"github.com/vk/computergrid/internal/config"
	"github.com/vk/computergrid/internal/ctxlog"
	"github.com/vk/computergrid/internal/metrics"
	"github.com/vk/computergrid/internal/peripheral"
	"github.com/vk/computergrid/internal/registry"
	"github.com/vk/computergrid/internal/rom"
	"github.com/vk/computergrid/internal/savedir"
	"github.com/vk/computergrid/internal/storage"
	"github.com/vk/computergrid/internal/task"
	"github.com/vk/computergrid/internal/vfs"
	"github.com/vk/computergrid/internal/wired"
)

// computerSaveFamily is the save-directory namespace shared by every
// computer family, so ids are unique across families.
const computerSaveFamily = "computer"

// Option customises an App before its world is built.
type Option func(*App)

// WithBroadcaster replaces the sinks built from the broadcast block.
func WithBroadcaster(b broadcast.Broadcaster) Option {
	return func(a *App) { a.broadcaster = b }
}

// WithProviders replaces the built-in peripheral providers.
func WithProviders(p *peripheral.Providers) Option {
	return func(a *App) { a.providers = p }
}

type placed struct {
	name string
	exec *computer.Executor
	node string
	conf *config.Computer
}

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	ctx    context.Context
	config *Config
	model  *config.Model

	metrics     *metrics.Metrics
	store       storage.Store
	saves       *savedir.Service
	network     *wired.Network
	bridge      *task.Bridge
	registry    *registry.Registry
	providers   *peripheral.Providers
	broadcaster broadcast.Broadcaster
	commands    *Commands

	computers []*placed
	events    []*config.Event
	nextEvent int
	ticks     uint64

	httpServer *http.Server
	closed     bool
}

// NewApp is the constructor for the main application. It loads the
// configuration and builds the whole world: storage, network, peripherals,
// computers and broadcasters. Nothing runs until Start.
func NewApp(outW io.Writer, cfg *Config, loader config.Loader, opts ...Option) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogJournal, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	model, err := loader.Load(ctx, cfg.ConfigPaths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Debug("Configuration loaded and translated into unified model.")

	a := &App{
		outW:    outW,
		logger:  logger,
		ctx:     ctx,
		config:  cfg,
		model:   model,
		metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.build(ctx); err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	sim := a.model.Simulation

	if a.config.DataDir != "" {
		store, err := storage.OpenBadger(a.config.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open data directory: %w", err)
		}
		a.store = store
		a.logger.Info("💾 Using persistent storage.", "path", a.config.DataDir)
	} else {
		a.store = storage.NewMemoryStore()
		a.logger.Debug("Using in-memory storage.")
	}
	a.saves = savedir.New(a.store, savedir.Options{
		DefaultCapacity: sim.ComputerCapacity,
		Capacities:      map[string]int64{savedir.DiskFamily: sim.DiskCapacity},
	})

	a.network = wired.NewNetwork(wired.Options{
		OnRecompute: func(full bool, _ int) { a.metrics.Recompute(full) },
	})
	a.bridge = task.NewBridge(task.Options{
		TimeoutTicks: uint64(sim.TaskTimeoutTicks),
		MaxPerTick:   sim.TasksPerTick,
		Budget:       sim.TaskBudget,
	})
	if a.broadcaster == nil {
		a.broadcaster = a.buildBroadcaster(ctx)
	}
	a.registry = registry.New(registry.Options{
		KeepAliveTicks: sim.KeepAliveTicks,
		Broadcaster:    a.broadcaster,
		Metrics:        a.metrics,
	})
	if a.providers == nil {
		a.providers = peripheral.NewProviders()
		peripheral.RegisterBuiltins(a.providers)
	}
	a.commands = NewCommands(a)

	if err := a.buildNetwork(ctx); err != nil {
		return err
	}
	if err := a.buildComputers(ctx); err != nil {
		return err
	}

	a.events = append(a.events, a.model.Events...)
	sort.SliceStable(a.events, func(i, j int) bool { return a.events[i].Tick < a.events[j].Tick })
	return nil
}

// buildNetwork adds every node, peripheral and cable in one batch, so the
// reachable maps are computed once.
func (a *App) buildNetwork(ctx context.Context) error {
	type built struct {
		node, name string
		p          peripheral.Peripheral
	}
	var peripherals []built
	for _, n := range a.model.Nodes {
		for _, pc := range n.Peripherals {
			p, err := a.providers.Build(pc.Type, peripheral.Env{
				Node:    n.Name,
				Network: a.network,
				Disks:   a.saves,
			}, pc.Attributes)
			if err != nil {
				return fmt.Errorf("node %q peripheral %q: %w", n.Name, pc.Name, err)
			}
			peripherals = append(peripherals, built{node: n.Name, name: pc.Name, p: p})
		}
	}

	err := a.network.Batch(func(tx *wired.Tx) error {
		for _, n := range a.model.Nodes {
			if err := tx.AddNode(n.Name); err != nil {
				return err
			}
		}
		for _, b := range peripherals {
			if err := tx.AddPeripheral(b.node, b.name, b.p); err != nil {
				return err
			}
		}
		for _, c := range a.model.Cables {
			if err := tx.Connect(c.From, c.To, c.Distance); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to build network: %w", err)
	}
	ctxlog.FromContext(ctx).Debug("Network built.",
		"nodes", len(a.model.Nodes),
		"peripherals", len(peripherals),
		"cables", len(a.model.Cables),
	)
	return nil
}

func (a *App) buildComputers(ctx context.Context) error {
	sim := a.model.Simulation
	romMount := rom.Mount()

	declared := make(map[int]bool)
	for _, c := range a.model.Computers {
		if c.ID != nil {
			declared[*c.ID] = true
		}
	}

	for _, c := range a.model.Computers {
		family, err := computer.ParseFamily(c.Family)
		if err != nil {
			return fmt.Errorf("computer %q: %w", c.Name, err)
		}
		id, err := a.resolveID(c, declared)
		if err != nil {
			return fmt.Errorf("computer %q: %w", c.Name, err)
		}
		mount, err := a.saves.Mount(computerSaveFamily, id)
		if err != nil {
			return fmt.Errorf("computer %q: %w", c.Name, err)
		}
		if c.Startup != "" {
			if err := vfs.NewFileSystem(mount).WriteFile(computer.DefaultStartupFile, []byte(c.Startup), false); err != nil {
				return fmt.Errorf("computer %q: writing startup program: %w", c.Name, err)
			}
		}

		fam := a.model.Families[family.String()]
		opts := computer.Options{
			ID:            id,
			Family:        family,
			Label:         c.Label,
			Mount:         mount,
			ROM:           romMount,
			QueueCapacity: fam.QueueCapacity,
			YieldBudget:   fam.YieldBudget,
			GraceTicks:    sim.ShutdownGraceTicks,
			TickRate:      sim.TickRate,
			MaxSteps:      sim.MaxSteps,
			Bridge:        a.bridge,
			Metrics:       a.metrics,
		}
		logger := ctxlog.FromContext(ctx).With("computer", c.Name, "computer_id", id)
		opts.OnStateChange = func(from, to computer.State) {
			logger.Debug("Computer state transition.", "from", from.String(), "to", to.String())
		}
		if c.Node != "" {
			opts.Network = a.network
			opts.Node = c.Node
		}
		if family == computer.FamilyCommand {
			opts.Commands = a.commands
		}

		exec, err := computer.New(ctxlog.With(ctx, "computer", c.Name), opts)
		if err != nil {
			return fmt.Errorf("computer %q: %w", c.Name, err)
		}
		if _, err := a.registry.Add(exec); err != nil {
			return fmt.Errorf("computer %q: %w", c.Name, err)
		}
		a.computers = append(a.computers, &placed{name: c.Name, exec: exec, node: c.Node, conf: c})
	}
	ctxlog.FromContext(ctx).Debug("Computers loaded.", "count", len(a.computers))
	return nil
}

// resolveID returns the declared id of c, or the id allocated to its name
// on an earlier run, or a fresh one.
func (a *App) resolveID(c *config.Computer, declared map[int]bool) (int, error) {
	if c.ID != nil {
		return *c.ID, a.saves.Reserve(computerSaveFamily, *c.ID)
	}

	key := "names/" + computerSaveFamily + "/" + c.Name
	raw, err := a.store.Get(key)
	switch {
	case err == nil:
		id, convErr := strconv.Atoi(string(raw))
		if convErr != nil {
			return 0, fmt.Errorf("corrupt id record %s: %w", key, convErr)
		}
		return id, nil
	case !errors.Is(err, storage.ErrNotFound):
		return 0, err
	}

	id, err := a.saves.NextID(computerSaveFamily)
	for err == nil && declared[id] {
		id, err = a.saves.NextID(computerSaveFamily)
	}
	if err != nil {
		return 0, err
	}
	if err := a.store.Put(key, []byte(strconv.Itoa(id))); err != nil {
		return 0, err
	}
	return id, nil
}

// Registry returns the application's registry.
func (a *App) Registry() *registry.Registry { return a.registry }

// Network returns the shared peripheral network.
func (a *App) Network() *wired.Network { return a.network }

// Metrics returns the application's metrics.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Bridge returns the main-thread task bridge.
func (a *App) Bridge() *task.Bridge { return a.bridge }

// Ticks returns the number of completed host ticks.
func (a *App) Ticks() uint64 { return a.ticks }

// Computer returns the executor of a declared computer.
func (a *App) Computer(name string) (*computer.Executor, bool) {
	for _, p := range a.computers {
		if p.name == name {
			return p.exec, true
		}
	}
	return nil, false
}

// Logger returns the application's logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// Context returns the context carrying the application's logger.
func (a *App) Context() context.Context { return a.ctx }
