package db

import (
	"context"
	"fmt"
)

// Migrate brings the schema to the version this binary assumes. It runs once
// at startup; query code never probes for columns afterwards.
func (p *Pool) Migrate(ctx context.Context) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	if err := p.gdb.WithContext(ctx).AutoMigrate(autoMigrateModels()...); err != nil {
		return fmt.Errorf("auto-migrate models: %w", err)
	}
	return nil
}
