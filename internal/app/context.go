package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"leadline/internal/config"
	"leadline/internal/db"
	"leadline/internal/domain"
	"leadline/internal/migrate"
	"leadline/internal/repo"
)

var builtinStates = map[string]bool{
	domain.StateOpen:     true,
	domain.StateFollowUp: true,
	domain.StateClosed:   true,
	domain.StateJunk:     true,
	domain.StateFuture:   true,
	domain.StateOthers:   true,
}

// Bootstrap seeds states, their policy rows and the admin actor. Existing
// rows are left alone, so admin edits survive restarts.
func Bootstrap(ctx context.Context, r repo.Repo, cfg *config.Config, adminID string) error {
	if cfg == nil {
		cfg = config.Default("default-org")
	}
	now := time.Now()
	stamp := repo.FormatTime(now)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for i, s := range cfg.States {
		state := domain.LeadState{
			Name:      s.Name,
			Label:     s.Label,
			Color:     s.Color,
			Terminal:  s.Terminal,
			System:    builtinStates[s.Name],
			Active:    true,
			SortOrder: i,
			CreatedAt: stamp,
		}
		if state.Label == "" {
			state.Label = s.Name
		}
		if err := r.EnsureState(ctx, tx, state); err != nil {
			return fmt.Errorf("seed state %s: %w", s.Name, err)
		}
		if err := r.SeedPolicy(ctx, tx, s.Name, s.Tracked, now); err != nil {
			return fmt.Errorf("seed policy %s: %w", s.Name, err)
		}
	}
	if adminID == "" {
		adminID = "admin"
	}
	if err := r.EnsureActor(ctx, tx, domain.Actor{
		ID:        adminID,
		Name:      adminID,
		Role:      domain.RoleAdmin,
		Active:    true,
		CreatedAt: stamp,
	}); err != nil {
		return fmt.Errorf("ensure admin actor: %w", err)
	}
	return tx.Commit()
}

// OpenWorkspace opens and migrates the workspace database, then bootstraps it.
func OpenWorkspace(ctx context.Context, workspace string, cfg *config.Config, adminID string) (*sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	if err := Bootstrap(ctx, repo.Repo{DB: conn}, cfg, adminID); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
