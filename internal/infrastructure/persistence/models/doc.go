// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer pure and free
// from ORM concerns.
//
// Structure:
//   - base.go: AggregateModel with version for optimistic locking
//   - order.go: orders and their line items
//   - payout.go: payout records and their append-only transition history
//   - commission.go: the single commission settings row
package models
