// Command warden is the operational entrypoint for the governance engine:
// it assembles the store, cache, and facade from configuration and exposes
// the day-to-day operations as subcommands.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/time/rate"

	"github.com/overseer-labs/warden/pkg/approval"
	"github.com/overseer-labs/warden/pkg/cache"
	"github.com/overseer-labs/warden/pkg/config"
	"github.com/overseer-labs/warden/pkg/contracts"
	"github.com/overseer-labs/warden/pkg/governance"
	"github.com/overseer-labs/warden/pkg/notify"
	"github.com/overseer-labs/warden/pkg/observability"
	"github.com/overseer-labs/warden/pkg/policy"
	"github.com/overseer-labs/warden/pkg/store"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches subcommands; split from main for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 0
	}

	switch args[1] {
	case "run":
		return runService(stdout, stderr)
	case "register":
		return runRegister(args[2:], stdout, stderr)
	case "decide":
		return runDecide(args[2:], stdout, stderr)
	case "resolve":
		return runResolve(args[2:], stdout, stderr)
	case "outcome":
		return runOutcome(args[2:], stdout, stderr)
	case "sweep":
		return runSweep(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `warden — maturity-based governance engine

Usage:
  warden run                                     run the engine with its background sweeper
  warden register -name NAME -category CAT [-confidence F]
  warden decide -agent ID -action TYPE [-require-approval]
  warden resolve -approval ID -by USER [-reject] [-comment TEXT]
  warden outcome -agent ID -impact LEVEL [-negative]
  warden sweep                                   expire stale pending approvals once
  warden help`)
}

// build assembles the facade from environment configuration.
func build(stderr io.Writer) (*governance.Service, *config.Config, func(), error) {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	st, err := store.OpenSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	cleanup := func() { _ = st.Close() }

	var decisionCache cache.DecisionCache
	if cfg.RedisAddr != "" {
		decisionCache = cache.NewRedisCache(cfg.RedisAddr, "", cfg.RedisDB)
	} else {
		decisionCache = cache.NewMemoryCache()
	}

	cacheTTL := cfg.CacheTTL
	approvalOpts := []approval.Option{
		approval.WithWindow(cfg.ApprovalWindow),
		approval.WithPollInterval(cfg.PollInterval),
	}

	var opts []governance.Option

	// A named profile refines the env configuration and may carry its own
	// override expressions.
	if code := os.Getenv("WARDEN_PROFILE"); code != "" {
		profile, err := config.LoadProfile(cfg.ProfilesDir, code)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load governance profile: %w", err)
		}
		if profile.Cache.TTL > 0 {
			cacheTTL = profile.Cache.TTL
		}
		if profile.Approval.Window > 0 {
			approvalOpts = append(approvalOpts, approval.WithWindow(profile.Approval.Window))
		}
		if profile.Approval.PollInterval > 0 {
			approvalOpts = append(approvalOpts, approval.WithPollInterval(profile.Approval.PollInterval))
		}
		if profile.Approval.RequestRate > 0 && profile.Approval.RequestBurst > 0 {
			approvalOpts = append(approvalOpts,
				approval.WithRequestRate(rate.Limit(profile.Approval.RequestRate), profile.Approval.RequestBurst))
		}
		if len(profile.Overrides) > 0 {
			overrides, err := policy.NewOverrides()
			if err != nil {
				return nil, nil, nil, err
			}
			for _, r := range profile.Overrides {
				actionType := r.ActionType
				if actionType == "" {
					actionType = "*"
				}
				if err := overrides.Load(r.ID, actionType, r.Expression, policy.OverrideEffect(r.Effect)); err != nil {
					return nil, nil, nil, fmt.Errorf("profile override %q: %w", r.ID, err)
				}
			}
			opts = append(opts, governance.WithOverrides(overrides))
		}
	} else if cfg.PolicyDir != "" {
		overrides, err := policy.LoadDir(cfg.PolicyDir)
		if err != nil {
			fmt.Fprintf(stderr, "warning: policy overrides not loaded: %v\n", err)
		} else {
			opts = append(opts, governance.WithOverrides(overrides))
		}
	}

	opts = append(opts,
		governance.WithDecisionCache(decisionCache),
		governance.WithEngineOptions(policy.WithCacheTTL(cacheTTL)),
		governance.WithApprovalOptions(approvalOpts...),
	)

	obs, err := observability.New(context.Background(), &observability.Config{
		ServiceName:    "warden",
		ServiceVersion: "1.0.0",
		Environment:    envName(),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Enabled:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "",
		Insecure:       true,
	})
	if err != nil {
		fmt.Fprintf(stderr, "warning: observability disabled: %v\n", err)
	} else {
		opts = append(opts, governance.WithSink(notify.NewFanout(
			notify.NewSlogSink(nil),
			observability.NewMetricsSink(obs),
		)))
		prev := cleanup
		cleanup = func() {
			_ = obs.Shutdown(context.Background())
			prev()
		}
	}

	return governance.NewService(st, opts...), cfg, cleanup, nil
}

func envName() string {
	if v := os.Getenv("WARDEN_ENV"); v != "" {
		return v
	}
	return "development"
}

func setupLogging(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func runService(stdout, stderr io.Writer) int {
	svc, cfg, cleanup, err := build(stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(stdout, "warden running (db=%s sweep=%s)\n", cfg.DatabasePath, cfg.SweepInterval)
	svc.Run(ctx, cfg.SweepInterval)
	fmt.Fprintln(stdout, "warden stopped")
	return 0
}

func runRegister(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(stderr)
	name := fs.String("name", "", "agent name")
	category := fs.String("category", "", "agent category")
	confidence := fs.Float64("confidence", 0.1, "initial confidence score")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *name == "" {
		fmt.Fprintln(stderr, "register: -name is required")
		return 2
	}

	svc, _, cleanup, err := build(stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer cleanup()

	agent, err := svc.RegisterAgent(context.Background(), *name, *category, *confidence)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return printJSON(stdout, stderr, agent)
}

func runDecide(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("decide", flag.ContinueOnError)
	fs.SetOutput(stderr)
	agentID := fs.String("agent", "", "agent ID")
	actionType := fs.String("action", "", "action type")
	requireApproval := fs.Bool("require-approval", false, "force human approval")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *agentID == "" || *actionType == "" {
		fmt.Fprintln(stderr, "decide: -agent and -action are required")
		return 2
	}

	svc, _, cleanup, err := build(stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer cleanup()

	enf, err := svc.EnforceAction(context.Background(), *agentID, *actionType, nil, *requireApproval)
	if err != nil {
		fmt.Fprintf(stderr, "enforcement degraded: %v\n", err)
	}
	if code := printJSON(stdout, stderr, enf); code != 0 {
		return code
	}
	if enf.Proceed {
		return 0
	}
	return 3 // blocked or pending
}

func runResolve(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	approvalID := fs.String("approval", "", "approval ID")
	by := fs.String("by", "", "resolver user ID")
	reject := fs.Bool("reject", false, "reject instead of approve")
	comment := fs.String("comment", "", "resolution comment")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *approvalID == "" || *by == "" {
		fmt.Fprintln(stderr, "resolve: -approval and -by are required")
		return 2
	}

	svc, _, cleanup, err := build(stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer cleanup()

	status, err := svc.ResolveApproval(context.Background(), *approvalID, !*reject, *by, *comment)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, status)
	return 0
}

func runOutcome(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("outcome", flag.ContinueOnError)
	fs.SetOutput(stderr)
	agentID := fs.String("agent", "", "agent ID")
	impact := fs.String("impact", "medium", "impact level: low|medium|high")
	negative := fs.Bool("negative", false, "record a negative outcome")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *agentID == "" {
		fmt.Fprintln(stderr, "outcome: -agent is required")
		return 2
	}

	svc, _, cleanup, err := build(stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer cleanup()

	u, err := svc.RecordOutcome(context.Background(), *agentID, !*negative, contracts.ImpactLevel(*impact))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return printJSON(stdout, stderr, u)
}

func runSweep(stdout, stderr io.Writer) int {
	svc, _, cleanup, err := build(stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer cleanup()

	n, err := svc.Approvals().Sweep(context.Background())
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, "expired "+strconv.Itoa(n)+" approvals")
	return 0
}

func printJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}
