package cli

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/depot/internal/command"
	"github.com/mesh-intelligence/depot/internal/notify"
	"github.com/mesh-intelligence/depot/internal/query"
	"github.com/mesh-intelligence/depot/internal/replication"
	"github.com/mesh-intelligence/depot/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the depot to clients and peers",
		Long: "Attach the depot, replay the writes spooled by an earlier run and accept\n" +
			"line-protocol connections until interrupted.",
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	s, b, db, err := open()
	if err != nil {
		return err
	}
	defer b.Detach()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	pool := notify.NewPool(context.WithoutCancel(ctx), s.notifyWorkers, s.notifyQueue)
	defer func() {
		if err := pool.Close(); err != nil {
			log.WithError(err).Warn("background work failed")
		}
	}()

	reg := replication.NewRegistry()
	coord := replication.NewCoordinator(reg, replication.NewSpool(s.store.DataDir))
	env := &command.Env{
		DB:          db,
		Coordinator: coord,
		Authorizer:  command.NewPeerAuthorizer(s.peers, s.writers).AllowSync(s.syncPeers...),
		Notifier:    notify.NewPeerNotifier(pool, s.peers),
		Comparer:    command.ExitStatusComparer{},
	}
	env.Register(reg)

	exec, err := query.NewExecutor(db, s.queryCacheSize, s.queryBatchSize)
	if err != nil {
		return err
	}
	pool.Submit(func(ctx context.Context) error {
		return coord.Recover(ctx)
	})

	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return system(err, "listen")
	}
	snapshot := replication.NewSnapshot(db, coord)
	snapshot.ReplayIn(func(task func(context.Context) error) bool {
		return pool.Submit(task)
	})
	srv := server.New(env, snapshot, exec)
	g.Go(func() error { return srv.Serve(ctx, ln) })
	if s.metricsListen != "" {
		g.Go(func() error { return server.ServeMetrics(ctx, s.metricsListen) })
	}

	log.WithFields(log.Fields{
		"listen":  ln.Addr().String(),
		"peers":   len(s.peers),
		"product": db.Dialect().Product.String(),
	}).Info("depot started")
	err = g.Wait()
	log.Info("depot stopped")
	return err
}
