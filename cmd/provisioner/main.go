// Provisioner consumes provisioning jobs from Kafka, runs each job's
// script on the target host over SSH or WinRM, and records the outcome
// in MongoDB with an optional local JSON audit trail.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"github.com/avolk/remoteprov/internal/lg"
	"github.com/avolk/remoteprov/internal/persistence"
	"github.com/avolk/remoteprov/internal/serverutil"
	"github.com/avolk/remoteprov/pkg/config"
	"github.com/avolk/remoteprov/pkg/connection"
	"github.com/avolk/remoteprov/pkg/consumer"
	"github.com/avolk/remoteprov/pkg/results"
	"github.com/avolk/remoteprov/pkg/runner"
	"github.com/avolk/remoteprov/pkg/transport/sshx"
	"github.com/avolk/remoteprov/pkg/transport/winrmx"
	"github.com/avolk/remoteprov/pkg/workerpool"
)

const serviceName = "PROVISIONER"

// session joins the runner capability with the transport lifecycle.
type session interface {
	runner.Session
	Close() error
}

type service struct {
	lg       lg.Logger
	runner   *runner.Runner
	results  *results.Store
	auditDir string
}

func main() {
	logger := lg.New(lg.NewConfigFromFlags(serviceName))
	defer logger.Sync()

	store, err := newConfigStore()
	if err != nil {
		logger.Error("config store", lg.Err(err))
		os.Exit(1)
	}
	var svcCfg ServiceConfig
	if err := store.Load(&svcCfg); err != nil {
		logger.Error("load config", lg.Err(err))
		os.Exit(1)
	}
	// Config is read once at startup; the watch only flags drift so an
	// operator knows a restart is due. Stores without watch support
	// (Mongo) report that here.
	if err := store.Watch(func() {
		logger.Warn("configuration changed on disk, restart to apply")
	}); err != nil {
		logger.Debug("config watch unavailable", lg.Err(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = lg.Attach(ctx, logger)

	resultStore, err := results.New(ctx, svcCfg.Mongo.URI, svcCfg.Mongo.Database, svcCfg.Mongo.Collection)
	if err != nil {
		logger.Error("results store", lg.Err(err))
		os.Exit(1)
	}
	defer resultStore.Close(context.Background())

	cons := consumer.New[ProvisionJob](svcCfg.Kafka)
	defer cons.Close()

	svc := &service{
		lg:       logger,
		runner:   runner.New(logger),
		results:  resultStore,
		auditDir: svcCfg.AuditDir,
	}

	pool := workerpool.NewPool[ProvisionJob](svcCfg.MaxWorkers)
	go func() {
		for {
			job, err := cons.Read(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Error("fetch job", lg.Err(err))
				continue
			}
			pool.Submit(workerpool.Job[ProvisionJob]{
				Payload: job,
				Ctx:     ctx,
				Fn:      func(j ProvisionJob) error { return svc.handle(ctx, j) },
			})
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "ok, active workers: %d\n", pool.ActiveWorkers())
	})
	if err := serverutil.RunServer(mux, serverutil.ServerConfig{Port: svcCfg.HTTPPort}); err != nil {
		logger.Error("http server", lg.Err(err))
	}
	pool.Stop()
}

// newConfigStore picks the configuration backend: MongoDB when
// PROVISIONER_CONFIG_MONGO_URI is set, otherwise the YAML file named by
// PROVISIONER_CONFIG.
func newConfigStore() (config.Config, error) {
	if uri := os.Getenv("PROVISIONER_CONFIG_MONGO_URI"); uri != "" {
		return config.NewStore(config.MongoStore, &config.MongoConfig{
			URI:      uri,
			DBName:   envOr("PROVISIONER_CONFIG_MONGO_DB", "remoteprov"),
			CollName: envOr("PROVISIONER_CONFIG_MONGO_COLL", "config"),
			ID:       "provisioner",
		})
	}
	return config.NewStore(config.FileStore, &config.FileConfig{
		Path: envOr("PROVISIONER_CONFIG", "provisioner.yaml"),
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *service) handle(ctx context.Context, job ProvisionJob) error {
	conn := job.Connection.Normalized()
	logger := s.lg.With(lg.String("host", conn.Host), lg.String("kind", string(conn.Kind)))

	sess, err := s.dial(ctx, conn, logger)
	if err != nil {
		s.record(ctx, conn, nil, err)
		return err
	}
	defer sess.Close()

	res, runErr := s.runner.Run(ctx, sess, conn, []byte(job.Script))
	s.record(ctx, conn, res, runErr)
	return runErr
}

func (s *service) dial(ctx context.Context, conn connection.Config, logger lg.Logger) (session, error) {
	if conn.Kind == connection.KindWinRM {
		return winrmx.New(conn, logger)
	}
	return sshx.Dial(ctx, conn, logger)
}

// record persists the run outcome to Mongo and, when configured, to a
// local audit file. Storage failures are logged but never override the
// run's own outcome.
func (s *service) record(ctx context.Context, conn connection.Config, res *runner.RunResult, runErr error) {
	doc := results.Document{
		Host: conn.Host,
		Kind: string(conn.Kind),
	}
	if res != nil {
		doc.RunID = res.RunID.String()
		doc.Path = res.Path
		doc.ExitCode = res.ExitCode
		doc.Stdout = res.Stdout
		doc.Stderr = res.Stderr
		doc.StartedAt = res.StartedAt
		doc.FinishedAt = res.FinishedAt
	} else {
		doc.RunID = uuid.New().String()
	}
	if runErr != nil {
		doc.Error = runErr.Error()
	}

	if err := s.results.Save(ctx, doc); err != nil {
		s.lg.Error("save result", lg.Err(err))
	}
	if s.auditDir != "" {
		path := filepath.Join(s.auditDir, doc.RunID+".json")
		if err := persistence.WriteJSON(doc, path); err != nil {
			s.lg.Error("write audit record", lg.Err(err))
		}
	}
}
