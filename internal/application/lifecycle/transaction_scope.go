package lifecycle

import (
	"context"

	"github.com/labdata/backend/internal/domain/lifecycle"
	"github.com/labdata/backend/internal/domain/shared"
)

// TransactionScope provides transactional access to lifecycle repositories.
// Everything done through the repositories handed to fn, including the
// events it saves, is committed or rolled back together.
type TransactionScope interface {
	// Execute runs fn within a database transaction.
	// If fn returns an error, the transaction is rolled back.
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories provides access to lifecycle repositories within a transaction.
// Row locks taken through FindByIDForUpdate are held until the transaction ends.
type TransactionalRepositories interface {
	// ProjectRepo returns the project repository scoped to the current transaction
	ProjectRepo() lifecycle.ProjectDataRepository
	// OperationRepo returns the operation repository scoped to the current transaction
	OperationRepo() lifecycle.LifecycleOperationRepository
	// SaveEvents stores domain events so they are delivered only if the transaction commits
	SaveEvents(ctx context.Context, events ...shared.DomainEvent) error
}

// NoOpTransactionScope is a transaction scope that doesn't actually use transactions.
// Events are handed straight to the publisher, if any. Used in tests.
type NoOpTransactionScope struct {
	projectRepo   lifecycle.ProjectDataRepository
	operationRepo lifecycle.LifecycleOperationRepository
	publisher     shared.EventPublisher
}

// NewNoOpTransactionScope creates a NoOpTransactionScope with the given repositories.
func NewNoOpTransactionScope(
	projectRepo lifecycle.ProjectDataRepository,
	operationRepo lifecycle.LifecycleOperationRepository,
	publisher shared.EventPublisher,
) *NoOpTransactionScope {
	return &NoOpTransactionScope{
		projectRepo:   projectRepo,
		operationRepo: operationRepo,
		publisher:     publisher,
	}
}

// Execute runs the function without a real transaction
func (s *NoOpTransactionScope) Execute(_ context.Context, fn func(repos TransactionalRepositories) error) error {
	return fn(s)
}

// ProjectRepo returns the project repository.
func (s *NoOpTransactionScope) ProjectRepo() lifecycle.ProjectDataRepository {
	return s.projectRepo
}

// OperationRepo returns the operation repository.
func (s *NoOpTransactionScope) OperationRepo() lifecycle.LifecycleOperationRepository {
	return s.operationRepo
}

// SaveEvents publishes the events immediately
func (s *NoOpTransactionScope) SaveEvents(ctx context.Context, events ...shared.DomainEvent) error {
	if s.publisher == nil || len(events) == 0 {
		return nil
	}
	return s.publisher.Publish(ctx, events...)
}

var _ TransactionScope = (*NoOpTransactionScope)(nil)
var _ TransactionalRepositories = (*NoOpTransactionScope)(nil)
