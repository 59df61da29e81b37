package persistence

import (
	"context"

	applifecycle "github.com/labdata/backend/internal/application/lifecycle"
	"github.com/labdata/backend/internal/domain/lifecycle"
	"github.com/labdata/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// GormTransactionScope implements TransactionScope using GORM transactions.
// Domain events are written to the outbox in the same transaction when an
// OutboxEventSaver is configured.
type GormTransactionScope struct {
	db     *gorm.DB
	outbox shared.OutboxEventSaver
}

// NewGormTransactionScope creates a new GormTransactionScope.
// outbox may be nil, in which case saved events are dropped.
func NewGormTransactionScope(db *gorm.DB, outbox shared.OutboxEventSaver) *GormTransactionScope {
	return &GormTransactionScope{db: db, outbox: outbox}
}

// Execute runs the given function within a database transaction.
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos applifecycle.TransactionalRepositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTransactionalRepositories{tx: tx, outbox: s.outbox})
	})
}

// gormTransactionalRepositories provides access to all repositories within a transaction.
type gormTransactionalRepositories struct {
	tx     *gorm.DB
	outbox shared.OutboxEventSaver
}

// ProjectRepo returns the project repository scoped to the current transaction.
func (r *gormTransactionalRepositories) ProjectRepo() lifecycle.ProjectDataRepository {
	return NewGormProjectDataRepository(r.tx)
}

// OperationRepo returns the operation repository scoped to the current transaction.
func (r *gormTransactionalRepositories) OperationRepo() lifecycle.LifecycleOperationRepository {
	return NewGormLifecycleOperationRepository(r.tx)
}

// SaveEvents writes events to the outbox within the current transaction.
func (r *gormTransactionalRepositories) SaveEvents(ctx context.Context, events ...shared.DomainEvent) error {
	if r.outbox == nil || len(events) == 0 {
		return nil
	}
	return r.outbox.SaveEvents(ctx, r.tx, events...)
}

var _ applifecycle.TransactionScope = (*GormTransactionScope)(nil)
var _ applifecycle.TransactionalRepositories = (*gormTransactionalRepositories)(nil)
