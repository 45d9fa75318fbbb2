package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgUnitOfWork struct {
	pool *pgxpool.Pool
}

// NewUnitOfWork returns a Postgres unit of work. Each Do call is one read-committed
// transaction; writers serialize per asset through the row lock taken by GetForUpdate.
func NewUnitOfWork(pool *pgxpool.Pool) UnitOfWork {
	return &pgUnitOfWork{pool: pool}
}

func (u *pgUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := u.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	// no-op once committed; runs on a detached context so a cancelled request still rolls back
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(ctx, &pgTx{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	db DBTX
}

func (t *pgTx) Assets() AssetRepository { return NewAssetRepository(t.db) }
func (t *pgTx) Events() StatusEventRepository { return NewStatusEventRepository(t.db) }
func (t *pgTx) Fixes() FixRepository { return NewFixRepository(t.db) }
func (t *pgTx) Tickets() TicketSequencer { return NewSequenceTicketSequencer(t.db) }
