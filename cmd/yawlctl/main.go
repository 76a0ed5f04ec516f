// Command yawlctl is the minimal CLI surface over the facade (§6.4): it
// loads a directory of specifications, wires both engine variants behind
// the Engine Selector & Facade, and exposes launch/status/cancel/items as
// plain subcommands, following the same flag-parsing and goa.design/clue
// logging setup as the teacher's cmd/assistant entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	mongodriver "go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"go.temporal.io/sdk/client"

	"goa.design/clue/log"
	"goa.design/pulse/rmap"

	"github.com/redis/go-redis/v9"

	"github.com/yawl-run/yawl/allocator"
	"github.com/yawl-run/yawl/engine"
	"github.com/yawl-run/yawl/engine/durable"
	"github.com/yawl-run/yawl/engine/inmem"
	"github.com/yawl-run/yawl/facade"
	"github.com/yawl-run/yawl/marking"
	"github.com/yawl-run/yawl/persistence"
	persistinmem "github.com/yawl-run/yawl/persistence/inmem"
	persistmongo "github.com/yawl-run/yawl/persistence/mongo"
	"github.com/yawl-run/yawl/retry"
	"github.com/yawl-run/yawl/runlog"
	runloginmem "github.com/yawl-run/yawl/runlog/inmem"
	runlogmongo "github.com/yawl-run/yawl/runlog/mongo"
	"github.com/yawl-run/yawl/runner"
	"github.com/yawl-run/yawl/session"
	sessioninmem "github.com/yawl-run/yawl/session/inmem"
	sessionmongo "github.com/yawl-run/yawl/session/mongo"
	"github.com/yawl-run/yawl/spec"
	"github.com/yawl-run/yawl/telemetry"
	"github.com/yawl-run/yawl/workitem"
	"github.com/yawl-run/yawl/yerrors"
)

// Exit codes (§6.4).
const (
	exitOK                   = 0
	exitBadArguments         = 2
	exitNotFound             = 3
	exitPreconditionViolated = 4
	exitInternalFailure      = 5
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:]))
}

func run(ctx context.Context, args []string) int {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx = log.Context(ctx, log.WithFormat(format))
	logger := telemetry.NewClueLogger()

	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: yawlctl <launch|status|cancel|items> [flags]")
		return exitBadArguments
	}

	app, cleanup, err := buildApp(ctx, logger)
	if err != nil {
		log.Errorf(ctx, err, "failed to initialize")
		return exitInternalFailure
	}
	defer cleanup()

	switch args[0] {
	case "launch":
		return cmdLaunch(ctx, app, args[1:])
	case "status":
		return cmdStatus(ctx, app, args[1:])
	case "cancel":
		return cmdCancel(ctx, app, args[1:])
	case "items":
		return cmdItems(ctx, app, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		return exitBadArguments
	}
}

// app bundles the wired facade and the stores the CLI prints from directly
// (work-item listing never goes through an engine, per §6.1).
type app struct {
	Facade *facade.Facade
	Items  *workitem.Store
}

// buildApp wires the marking/work-item stores, loads the specification
// directory, constructs both engine variants, and assembles the facade,
// breaking the runner/facade construction cycle the same way facade.go's
// LaunchSubCase doc comment describes: build the runner first with no
// SubCaseLauncher, then assign runner.Sub once the facade exists.
func buildApp(ctx context.Context, logger telemetry.Logger) (*app, func(), error) {
	specDir := envOr("SPEC_DIR", "")
	if specDir == "" {
		return nil, nil, fmt.Errorf("SPEC_DIR must name a directory of specification documents")
	}
	specs := spec.NewCache()
	if err := specs.LoadDir(specDir); err != nil {
		return nil, nil, fmt.Errorf("load specifications: %w", err)
	}

	marks := marking.NewStore()
	items := workitem.NewStore()

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	runLog, sessions, persist, err := buildStores(ctx, logger, &cleanups)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	r := runner.New(marks, items, specs, nil, runLog, logger, nil)

	statelessEng := inmem.New(r)

	cfg := facade.LoadConfig()

	statefulEng, err := buildStatefulEngine(ctx, r, persist, logger, cfg.CaseDeadlineDefault)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	cleanups = append(cleanups, func() { statefulEng.Close(ctx) })

	alloc, err := buildAllocator(ctx, items, logger, &cleanups)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	f := facade.New(cfg, facade.Deps{
		Stateful:  statefulEng,
		Stateless: statelessEng,
		Marks:     marks,
		Items:     items,
		Specs:     specs,
		Alloc:     alloc,
		Sessions:  sessions,
		Log:       logger,
	})
	r.Sub = f

	stopSweep := startSweeper(ctx, r, cfg.CaseDeadlineDefault, logger)
	cleanups = append(cleanups, stopSweep)

	return &app{Facade: f, Items: items}, cleanup, nil
}

// sweepInterval is how often the background sweeper reclaims expired
// work-item leases and cancels cases past their hard deadline (§4.4.3,
// §5 "Timeouts"). It runs regardless of whether a case deadline is
// configured, since lease reclaim applies to every case.
const sweepInterval = 10 * time.Second

// startSweeper runs runner.Sweep on a ticker until the returned stop func
// is called, the one process-wide background loop this binary owns.
func startSweeper(ctx context.Context, r *runner.Runner, caseDeadline time.Duration, logger telemetry.Logger) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				res := r.Sweep(ctx, engine.RealClock, caseDeadline)
				if res.ItemsReclaimed > 0 || res.ItemsFailed > 0 || res.CasesCancelled > 0 {
					logger.Info(ctx, "sweep completed",
						"items_reclaimed", res.ItemsReclaimed,
						"items_failed", res.ItemsFailed,
						"cases_cancelled", res.CasesCancelled)
				}
			}
		}
	}()
	return func() { close(done) }
}

// buildStores wires the supplemental run log, session, and persistence
// collaborators: Mongo-backed when MONGO_URL is set, in-memory otherwise
// (a stateless-only deployment has nothing durable to connect to, but
// still gets the same run log / session grouping behavior in-process).
func buildStores(ctx context.Context, logger telemetry.Logger, cleanups *[]func()) (runner.EventSink, session.Store, persistence.Log, error) {
	mongoURL := envOr("MONGO_URL", "")
	if mongoURL == "" {
		return runlog.Sink{Store: runloginmem.New(), Log: logger}, sessioninmem.New(), persistinmem.New(), nil
	}

	var mc *mongodriver.Client
	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		c, dialErr := mongodriver.Connect(ctx, mongooptions.Client().ApplyURI(mongoURL))
		if dialErr != nil {
			return dialErr
		}
		mc = c
		return mc.Ping(ctx, nil)
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to mongo: %w", err)
	}
	*cleanups = append(*cleanups, func() { mc.Disconnect(ctx) })

	database := envOr("MONGO_DATABASE", "yawl")

	runlogClient, err := runlogmongo.New(runlogmongo.Options{Client: mc, Database: database})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build runlog client: %w", err)
	}
	sessionClient, err := sessionmongo.New(sessionmongo.Options{Client: mc, Database: database})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build session client: %w", err)
	}
	persistClient, err := persistmongo.New(persistmongo.Options{Client: mc, Database: database})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build persistence client: %w", err)
	}

	return runlog.Sink{Store: runlogClient, Log: logger}, sessionClient, persistClient, nil
}

func buildStatefulEngine(ctx context.Context, r *runner.Runner, persist persistence.Log, logger telemetry.Logger, caseDeadline time.Duration) (*durable.Engine, error) {
	hostPort := envOr("TEMPORAL_HOST_PORT", "localhost:7233")
	namespace := envOr("TEMPORAL_NAMESPACE", "default")
	taskQueue := envOr("TEMPORAL_TASK_QUEUE", "yawl-cases")

	var c client.Client
	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		dialed, dialErr := client.Dial(client.Options{HostPort: hostPort, Namespace: namespace})
		if dialErr != nil {
			return dialErr
		}
		c = dialed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to temporal: %w", err)
	}

	return durable.New(durable.Options{
		Client:       c,
		Namespace:    namespace,
		TaskQueue:    taskQueue,
		Log:          logger,
		Persist:      persist,
		HardDeadline: caseDeadline,
	}, r)
}

func buildAllocator(ctx context.Context, items *workitem.Store, logger telemetry.Logger, cleanups *[]func()) (*allocator.Allocator, error) {
	redisURL := envOr("REDIS_URL", "")
	if redisURL == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisURL})
	*cleanups = append(*cleanups, func() { rdb.Close() })
	if err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	workers, err := rmap.Join(ctx, "yawl-workers", rdb)
	if err != nil {
		return nil, fmt.Errorf("join worker registry: %w", err)
	}
	registry := allocator.NewRegistry(workers, logger)
	queue := allocator.NewRedisQueue(rdb, "yawl")
	return allocator.New(items, registry, queue, logger), nil
}

func cmdLaunch(ctx context.Context, a *app, args []string) int {
	fs := flag.NewFlagSet("launch", flag.ContinueOnError)
	specID := fs.String("spec", "", "specification id to launch")
	override := fs.String("override", "", "stateful|stateless engine override")
	data := fs.String("data", "", "JSON object of initial case data")
	role := fs.String("role", "", "caller role (required for --override)")
	sessionID := fs.String("session", "", "optional session id to group this case under")
	if err := fs.Parse(args); err != nil {
		return exitBadArguments
	}
	if *specID == "" {
		fmt.Fprintln(os.Stderr, "launch requires --spec")
		return exitBadArguments
	}
	var inputData map[string]any
	if *data != "" {
		if err := json.Unmarshal([]byte(*data), &inputData); err != nil {
			fmt.Fprintf(os.Stderr, "invalid --data: %v\n", err)
			return exitBadArguments
		}
	}
	ov := facade.Overrides{Role: *role}
	switch *override {
	case "":
	case "stateful":
		ov.EngineOverride = engine.VariantStateful
	case "stateless":
		ov.EngineOverride = engine.VariantStateless
	default:
		fmt.Fprintln(os.Stderr, "--override must be stateful or stateless")
		return exitBadArguments
	}

	res, err := a.Facade.LaunchCaseInSession(ctx, *sessionID, *specID, inputData, ov)
	if err != nil {
		return reportError(ctx, err)
	}
	return printJSON(res)
}

func cmdStatus(ctx context.Context, a *app, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: yawlctl status <caseId>")
		return exitBadArguments
	}
	view, err := a.Facade.GetCase(ctx, args[0])
	if err != nil {
		return reportError(ctx, err)
	}
	return printJSON(view)
}

func cmdCancel(ctx context.Context, a *app, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: yawlctl cancel <caseId>")
		return exitBadArguments
	}
	if err := a.Facade.Cancel(ctx, args[0]); err != nil {
		return reportError(ctx, err)
	}
	return exitOK
}

func cmdItems(ctx context.Context, a *app, args []string) int {
	fs := flag.NewFlagSet("items", flag.ContinueOnError)
	caseID := fs.String("case", "", "limit to a single case id")
	if err := fs.Parse(args); err != nil {
		return exitBadArguments
	}
	return printJSON(a.Facade.ListLiveWorkItems(*caseID))
}

func printJSON(v any) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
		return exitInternalFailure
	}
	return exitOK
}

// reportError maps a yerrors.Kind to the §6.4 exit code taxonomy and prints
// the error to stderr.
func reportError(ctx context.Context, err error) int {
	fmt.Fprintln(os.Stderr, err)
	kind, ok := yerrors.KindOf(err)
	if !ok {
		return exitInternalFailure
	}
	switch kind {
	case yerrors.KindCaseNotFound, yerrors.KindItemNotFound:
		return exitNotFound
	case yerrors.KindPreconditionViolated, yerrors.KindRoutingRejected, yerrors.KindOutputValidationFailed:
		return exitPreconditionViolated
	default:
		return exitInternalFailure
	}
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
