package members

import (
	"context"
	stdErrors "errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/piratar/members-sync/pkg/db"
	"github.com/piratar/members-sync/pkg/db/models"
	pkgerrors "github.com/piratar/members-sync/pkg/errors"
	"github.com/piratar/members-sync/pkg/kennitala"
	"github.com/piratar/members-sync/pkg/logger"
	"github.com/piratar/members-sync/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ChangeRecorder appends the queue entry for a mutation inside its transaction.
type ChangeRecorder interface {
	RecordCreate(ctx context.Context, tx *gorm.DB, member *models.Member) (*models.SyncQueueEntry, error)
	RecordUpdate(ctx context.Context, tx *gorm.DB, member *models.Member) (*models.SyncQueueEntry, error)
	RecordDelete(ctx context.Context, tx *gorm.DB, recordKey string) (*models.SyncQueueEntry, error)
}

// Notifier is told about committed entries so a reconciler can wake early.
type Notifier interface {
	Notify(ctx context.Context, entry *models.SyncQueueEntry) error
}

// Guard constrains a mutation. A non-nil NotAfter turns the call into a
// conflict when the stored row changed after that instant.
type Guard struct {
	NotAfter *time.Time
}

// Service is the only write path for members; every mutation is recorded.
type Service interface {
	Create(ctx context.Context, ssn string, patch Patch) (*models.Member, error)
	Update(ctx context.Context, ssn string, patch Patch, guard Guard) (*models.Member, error)
	Delete(ctx context.Context, ssn string, guard Guard) error
	Get(ctx context.Context, ssn string) (*models.Member, error)
	List(ctx context.Context, limit int, cursor string) (*ListResult, error)
}

type ListResult struct {
	Items  []models.Member `json:"items"`
	Cursor string          `json:"cursor"`
}

type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Recorder ChangeRecorder
	Notifier Notifier
	Logger   *logger.Logger
}

type service struct {
	repo     Repository
	tx       txRunner
	recorder ChangeRecorder
	notifier Notifier
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "members repository required")
	}
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if params.Recorder == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "change recorder required")
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		recorder: params.Recorder,
		notifier: params.Notifier,
		logg:     params.Logger,
		now:      time.Now,
	}, nil
}

func (s *service) Create(ctx context.Context, ssn string, patch Patch) (*models.Member, error) {
	key, err := parseKey(ssn)
	if err != nil {
		return nil, err
	}
	if patch.Name == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name required")
	}

	now := s.now().UTC()
	member := &models.Member{
		ID:         uuid.New(),
		SSN:        key,
		Reachable:  true,
		Groupable:  true,
		DateJoined: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := patch.apply(member); err != nil {
		return nil, err
	}

	var entry *models.SyncQueueEntry
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindBySSN(ctx, key); err == nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "member already exists")
		} else if !stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load member")
		}
		if err := repo.Create(ctx, member); err != nil {
			if db.IsUniqueViolation(err, "members_ssn_key") {
				return pkgerrors.New(pkgerrors.CodeConflict, "member already exists")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert member")
		}
		var rerr error
		entry, rerr = s.recorder.RecordCreate(ctx, tx, member)
		if rerr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, rerr, "record member create")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, entry)
	return member, nil
}

func (s *service) Update(ctx context.Context, ssn string, patch Patch, guard Guard) (*models.Member, error) {
	key, err := parseKey(ssn)
	if err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no fields to update")
	}

	var (
		member *models.Member
		entry  *models.SyncQueueEntry
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.lock(ctx, repo, key)
		if err != nil {
			return err
		}
		if err := checkGuard(current, guard); err != nil {
			return err
		}
		if err := patch.apply(current); err != nil {
			return err
		}
		current.UpdatedAt = s.now().UTC()
		if err := repo.Save(ctx, current); err != nil {
			return writeError(err, "update member")
		}
		var rerr error
		entry, rerr = s.recorder.RecordUpdate(ctx, tx, current)
		if rerr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, rerr, "record member update")
		}
		member = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, entry)
	return member, nil
}

// Delete captures the record key before the row goes, so the delete entry
// never loses it.
func (s *service) Delete(ctx context.Context, ssn string, guard Guard) error {
	key, err := parseKey(ssn)
	if err != nil {
		return err
	}

	var entry *models.SyncQueueEntry
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.lock(ctx, repo, key)
		if err != nil {
			return err
		}
		if err := checkGuard(current, guard); err != nil {
			return err
		}
		recordKey := current.SSN
		if err := repo.Delete(ctx, current); err != nil {
			return writeError(err, "delete member")
		}
		var rerr error
		entry, rerr = s.recorder.RecordDelete(ctx, tx, recordKey)
		if rerr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, rerr, "record member delete")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(ctx, entry)
	return nil
}

func (s *service) Get(ctx context.Context, ssn string) (*models.Member, error) {
	key, err := parseKey(ssn)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, s.repo, key)
}

func (s *service) List(ctx context.Context, limit int, cursor string) (*ListResult, error) {
	var parsed *pagination.Cursor
	if cursor != "" {
		c, err := pagination.ParseCursor(cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		parsed = c
	}
	rows, next, err := s.repo.List(ctx, limit, parsed)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list members")
	}
	out := &ListResult{Items: rows}
	if next != nil {
		out.Cursor = pagination.EncodeCursor(*next)
	}
	return out, nil
}

func (s *service) load(ctx context.Context, repo Repository, key string) (*models.Member, error) {
	member, err := repo.FindBySSN(ctx, key)
	if err != nil {
		return nil, writeError(err, "load member")
	}
	return member, nil
}

// lock loads the row for a write inside the caller's transaction.
func (s *service) lock(ctx context.Context, repo Repository, key string) (*models.Member, error) {
	member, err := repo.LockBySSN(ctx, key)
	if err != nil {
		return nil, writeError(err, "lock member")
	}
	return member, nil
}

// writeError maps a vanished row to NOT_FOUND so nothing is recorded for it.
func writeError(err error, msg string) error {
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "member not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

func (s *service) notify(ctx context.Context, entry *models.SyncQueueEntry) {
	if s.notifier == nil || entry == nil {
		return
	}
	if err := s.notifier.Notify(ctx, entry); err != nil && s.logg != nil {
		warnCtx := s.logg.WithEntry(s.logg.WithRecordKey(ctx, entry.RecordKey), entry.ID)
		warnCtx = s.logg.WithFields(warnCtx, map[string]any{"action": entry.Action, "error": err.Error()})
		s.logg.Warn(warnCtx, "sync wake-up publish failed")
	}
}

func parseKey(ssn string) (string, error) {
	key, err := kennitala.Parse(ssn)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid kennitala")
	}
	return key, nil
}

func checkGuard(member *models.Member, guard Guard) error {
	if guard.NotAfter != nil && member.UpdatedAt.After(*guard.NotAfter) {
		return pkgerrors.New(pkgerrors.CodeConflict, "member changed after origin timestamp").
			WithDetails(map[string]any{"updated_at": member.UpdatedAt.UTC()})
	}
	return nil
}
