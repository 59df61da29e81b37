package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	lifecycleapp "github.com/labdata/backend/internal/application/lifecycle"
	"github.com/labdata/backend/internal/infrastructure/auth"
	"github.com/labdata/backend/internal/infrastructure/config"
	"github.com/labdata/backend/internal/infrastructure/event"
	"github.com/labdata/backend/internal/infrastructure/logger"
	"github.com/labdata/backend/internal/infrastructure/persistence"
	"github.com/labdata/backend/internal/infrastructure/tools"
	"go.uber.org/zap"
)

func main() {
	var logLevel string
	flag.StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command, rest := args[0], args[1:]
	switch command {
	case "hash-secret":
		err = hashSecret(rest)
	case "token":
		err = issueToken(rest)
	case "schedule":
		err = schedule(ctx, rest, log)
	case "restore":
		err = restore(ctx, rest, log)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Error("Command failed", zap.String("command", command), zap.Error(err))
		logger.Sync(log)
		os.Exit(1)
	}
}

// hashSecret prints the bcrypt hash for a client secret given as argument
// or read from stdin
func hashSecret(args []string) error {
	secret := ""
	if len(args) > 0 {
		secret = args[0]
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading secret from stdin: %w", err)
		}
		secret = strings.TrimRight(line, "\r\n")
	}
	if secret == "" {
		return errors.New("secret must not be empty")
	}
	hash, err := auth.HashSecret(secret)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func issueToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	scope := fs.String("scope", auth.ScopeAdmin, "Space separated scopes")
	subject := fs.String("subject", "lifecyclectl", "Token subject")
	ttl := fs.Duration("ttl", 0, "Token lifetime (default: auth.token_expiration)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	token, err := auth.NewTokenService(cfg.Auth).Issue(auth.IssueInput{
		Subject: *subject,
		Scopes:  strings.Fields(*scope),
		TTL:     *ttl,
	})
	if err != nil {
		return err
	}
	return printJSON(token)
}

func schedule(ctx context.Context, args []string, log *zap.Logger) error {
	fs := flag.NewFlagSet("schedule", flag.ContinueOnError)
	limit := fs.Int("limit", 0, "Maximum projects to claim (default: lifecycle.batch_size)")
	dryRun := fs.Bool("dry-run", false, "List candidates without claiming them")
	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := openEnvironment(log)
	if err != nil {
		return err
	}
	defer env.close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	result, err := env.scheduling.ScheduleCooling(ctx, lifecycleapp.ScheduleOptions{
		Limit:  *limit,
		DryRun: *dryRun,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func restore(ctx context.Context, args []string, log *zap.Logger) error {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	slug := fs.String("project", "", "Project slug to restore")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *slug == "" {
		return errors.New("-project is required")
	}

	env, err := openEnvironment(log)
	if err != nil {
		return err
	}
	defer env.close()

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	project, err := env.projects.GetProjectBySlug(ctx, *slug)
	if err != nil {
		return err
	}
	op, err := env.operations.RequestRestore(ctx, project.ID)
	if err != nil {
		return err
	}
	return printJSON(op)
}

type environment struct {
	db         *persistence.Database
	projects   *lifecycleapp.ProjectService
	operations *lifecycleapp.OperationService
	scheduling *lifecycleapp.SchedulingService
}

// openEnvironment wires the lifecycle services against the configured
// database and cooling API, the same way the server does
func openEnvironment(log *zap.Logger) (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabase(&cfg.Database, persistence.WithLogger(gormLog))
	if err != nil {
		return nil, err
	}

	txScope := persistence.NewGormTransactionScope(db.DB, event.NewOutboxPublisher(event.NewLifecycleEventSerializer()))
	projectRepo := persistence.NewGormProjectDataRepository(db.DB)
	operationRepo := persistence.NewGormLifecycleOperationRepository(db.DB)
	coolingAPI := tools.NewCoolingClient(cfg.Tools, auth.NewTokenService(cfg.Auth), log)

	lifecycleCfg := lifecycleapp.Config{
		BatchSize:        cfg.Lifecycle.BatchSize,
		SkipLocked:       cfg.Lifecycle.SkipLocked,
		RetryDelay:       cfg.Lifecycle.RetryDelay,
		RestoreRetention: cfg.Lifecycle.RestoreRetention,
		PendingTimeout:   cfg.Lifecycle.PendingTimeout,
	}
	return &environment{
		db:         db,
		projects:   lifecycleapp.NewProjectService(txScope, projectRepo, log),
		operations: lifecycleapp.NewOperationService(txScope, operationRepo, coolingAPI, log),
		scheduling: lifecycleapp.NewSchedulingService(txScope, projectRepo, operationRepo, coolingAPI, lifecycleCfg, log),
	}, nil
}

func (e *environment) close() {
	_ = e.db.Close()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage() {
	fmt.Println(`Lab data lifecycle operator tool

Usage:
  lifecyclectl [flags] <command> [arguments]

Commands:
  schedule [-limit n] [-dry-run]       Run one cooling scheduling pass
  restore -project <slug>              Request a restore of a cold project
  token [-scope s] [-subject s] [-ttl] Issue an API token signed with auth.secret
  hash-secret [secret]                 Print the bcrypt hash of a client secret (reads stdin when omitted)

Flags:
  -log-level string    debug, info, warn or error (default: warn)

Settings come from config.toml and LAB_* environment variables.`)
}
