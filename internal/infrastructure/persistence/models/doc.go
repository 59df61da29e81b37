// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer free
// from ORM concerns.
//
// Structure:
//   - base.go: shared columns (BaseModel, AggregateModel)
//   - lifecycle.go: project data, runs and lifecycle operations
//   - outbox.go: outbox entries for event delivery
package models
