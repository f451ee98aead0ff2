// Package app assembles the sync domain from its infrastructure clients so
// every binary wires the same services the same way.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/piratar/members-sync/internal/audit"
	"github.com/piratar/members-sync/internal/cron"
	"github.com/piratar/members-sync/internal/inbound"
	"github.com/piratar/members-sync/internal/members"
	"github.com/piratar/members-sync/internal/reconcile"
	"github.com/piratar/members-sync/internal/syncclients"
	"github.com/piratar/members-sync/internal/syncqueue"
	"github.com/piratar/members-sync/pkg/auth/session"
	"github.com/piratar/members-sync/pkg/config"
	"github.com/piratar/members-sync/pkg/db"
	"github.com/piratar/members-sync/pkg/logger"
	"github.com/piratar/members-sync/pkg/metrics"
	"github.com/piratar/members-sync/pkg/redis"
	"github.com/piratar/members-sync/pkg/replica"
	"github.com/piratar/members-sync/pkg/replica/boltstore"
	"github.com/piratar/members-sync/pkg/replica/surrealstore"
)

// ReplicaOpeners lists every replica backend the binaries can open.
var ReplicaOpeners = map[string]replica.Opener{
	config.ReplicaDriverBolt:    boltstore.Opener,
	config.ReplicaDriverSurreal: surrealstore.Opener,
}

// OpenReplica opens the backend selected by cfg.
func OpenReplica(ctx context.Context, cfg config.ReplicaConfig) (replica.Store, error) {
	return replica.Open(ctx, cfg, ReplicaOpeners)
}

type Params struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client
	// Notifier is optional; it wakes reconcilers after a committed mutation.
	Notifier members.Notifier
	// Registerer is optional; nil disables metric registration.
	Registerer prometheus.Registerer
}

// Domain holds the primary-side services shared by every entry point.
type Domain struct {
	cfg  *config.Config
	logg *logger.Logger

	QueueRepo   syncqueue.Repository
	Queue       syncqueue.Service
	Recorder    *syncqueue.Recorder
	AuditRepo   audit.Repository
	Audit       *audit.Service
	MembersRepo members.Repository
	Members     members.Service
	Applier     *inbound.Applier
	ClientsRepo syncclients.Repository
	SyncMetrics *metrics.SyncMetrics
	CronMetrics *metrics.CronJobMetrics
}

func NewDomain(p Params) (*Domain, error) {
	if p.Config == nil {
		return nil, errors.New("config is required")
	}
	if p.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if p.DB == nil {
		return nil, errors.New("database client is required")
	}

	conn := p.DB.DB()
	d := &Domain{
		cfg:         p.Config,
		logg:        p.Logger,
		QueueRepo:   syncqueue.NewRepository(conn),
		AuditRepo:   audit.NewRepository(conn),
		MembersRepo: members.NewRepository(conn),
		ClientsRepo: syncclients.NewRepository(conn),
		SyncMetrics: metrics.NewSyncMetrics(p.Registerer),
		CronMetrics: metrics.NewCronJobMetrics(p.Registerer),
	}

	var err error
	if d.Recorder, err = syncqueue.NewRecorder(d.QueueRepo); err != nil {
		return nil, fmt.Errorf("change recorder: %w", err)
	}
	if d.Audit, err = audit.NewService(d.AuditRepo); err != nil {
		return nil, fmt.Errorf("audit service: %w", err)
	}
	if d.Queue, err = syncqueue.NewService(syncqueue.ServiceParams{Repo: d.QueueRepo, Runs: d.Audit}); err != nil {
		return nil, fmt.Errorf("queue service: %w", err)
	}
	if d.Members, err = members.NewService(members.ServiceParams{
		Repo:     d.MembersRepo,
		Tx:       p.DB,
		Recorder: d.Recorder,
		Notifier: p.Notifier,
		Logger:   p.Logger,
	}); err != nil {
		return nil, fmt.Errorf("members service: %w", err)
	}
	if d.Applier, err = inbound.NewApplier(inbound.ApplierParams{
		Members: d.Members,
		Audit:   d.Audit,
		Metrics: d.SyncMetrics,
		Logger:  p.Logger,
	}); err != nil {
		return nil, fmt.Errorf("inbound applier: %w", err)
	}
	return d, nil
}

// Reconciler builds an outbound reconciler against store. wakeup may be nil.
func (d *Domain) Reconciler(store replica.Store, wakeup <-chan struct{}) (*reconcile.Service, error) {
	return reconcile.NewService(reconcile.ServiceParams{
		Config:  d.cfg.Sync,
		Logger:  d.logg,
		Queue:   d.QueueRepo,
		Replica: store,
		Audit:   d.Audit,
		Metrics: d.SyncMetrics,
		Wakeup:  wakeup,
	})
}

// Backfill builds a full resync of every member into store.
func (d *Domain) Backfill(store replica.Store) (*reconcile.Backfill, error) {
	return reconcile.NewBackfill(reconcile.BackfillParams{
		Logger:       d.logg,
		Members:      d.MembersRepo,
		Queue:        d.QueueRepo,
		Replica:      store,
		Audit:        d.Audit,
		PageSize:     d.cfg.Sync.BatchSize,
		EntryTimeout: d.cfg.Sync.EntryTimeout,
	})
}

// RetentionJobs returns both sweeper jobs configured from RetentionConfig.
func (d *Domain) RetentionJobs() ([]cron.Job, error) {
	queueJob, err := cron.NewSyncedQueueRetentionJob(cron.SyncedQueueRetentionJobParams{
		Logger:     d.logg,
		Repository: d.QueueRepo,
		Metrics:    d.CronMetrics,
		Retention:  d.cfg.Retention.SyncedDays,
	})
	if err != nil {
		return nil, fmt.Errorf("synced queue retention job: %w", err)
	}
	auditJob, err := cron.NewSyncAuditRetentionJob(cron.SyncAuditRetentionJobParams{
		Logger:     d.logg,
		Pruner:     d.Audit,
		Metrics:    d.CronMetrics,
		KeepRecent: d.cfg.Retention.AuditKeep,
		BatchSize:  d.cfg.Retention.AuditBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("sync audit retention job: %w", err)
	}
	return []cron.Job{queueJob, auditJob}, nil
}

// CronService wraps the retention jobs in a lock-guarded cron service.
func (d *Domain) CronService(redisClient *redis.Client) (*cron.Service, error) {
	jobs, err := d.RetentionJobs()
	if err != nil {
		return nil, err
	}
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron:"+d.cfg.App.Env), 0)
	if err != nil {
		return nil, fmt.Errorf("cron lock: %w", err)
	}
	return cron.NewService(cron.ServiceParams{
		Logger:   d.logg,
		Registry: cron.NewRegistry(jobs...),
		Lock:     lock,
		Metrics:  d.CronMetrics,
		Interval: d.cfg.Cron.Interval,
	})
}

// Clients builds the sync client service on top of the redis session store.
func (d *Domain) Clients(redisClient *redis.Client) (syncclients.Service, *session.Manager, error) {
	sessions, err := session.NewManager(redisClient)
	if err != nil {
		return nil, nil, fmt.Errorf("session manager: %w", err)
	}
	svc, err := syncclients.NewService(syncclients.ServiceParams{
		Repo:           d.ClientsRepo,
		SessionManager: sessions,
		JWTConfig:      d.cfg.JWT,
		PasswordConfig: d.cfg.Password,
		Logger:         d.logg,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("sync client service: %w", err)
	}
	return svc, sessions, nil
}
