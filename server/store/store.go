// Package store is the optional Postgres battle archive. The arena runs
// fine without a database; when DATABASE_URL is set, completed battles and
// tournament results are archived for later analysis.
package store

import (
	"context"
	"embed"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema embed.FS

type DB struct{ *pgxpool.Pool }

func Open(dsn string) (*DB, error) {
	p, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, err
	}
	return &DB{p}, nil
}

func (db *DB) Close(ctx context.Context)      { db.Pool.Close() }
func (db *DB) Ping(ctx context.Context) error { return db.Pool.Ping(ctx) }

func Migrate(ctx context.Context, db *DB) error {
	sqlBytes, err := schema.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, string(sqlBytes))
	return err
}

/* -----------------------------
   Minimal write helpers
------------------------------*/

// BattleRecord is one completed battle row.
type BattleRecord struct {
	SessionID    uuid.UUID
	Mode         string
	Winners      []string
	Losers       []string
	ScoreWinner  int
	ScoreLoser   int
	Arena        string
	Duration     time.Duration
	TournamentID *uuid.UUID
	Round        *int
	FoughtAt     time.Time
}

// InsertBattle archives one completed battle.
func (db *DB) InsertBattle(ctx context.Context, rec BattleRecord) error {
	var tid any
	if rec.TournamentID != nil {
		tid = *rec.TournamentID
	}
	var round any
	if rec.Round != nil {
		round = *rec.Round
	}
	_, err := db.Exec(ctx, `
        INSERT INTO battles(session_id, mode, winners, losers,
                            score_winner, score_loser, arena,
                            duration_ms, tournament_id, round, fought_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        ON CONFLICT (session_id) DO NOTHING
    `, rec.SessionID, rec.Mode, rec.Winners, rec.Losers,
		rec.ScoreWinner, rec.ScoreLoser, rec.Arena,
		rec.Duration.Milliseconds(), tid, round, rec.FoughtAt)
	return err
}

// InsertTournament records a tournament shell before its battles run.
func (db *DB) InsertTournament(ctx context.Context, id uuid.UUID, poolSize int, startedAt time.Time) error {
	_, err := db.Exec(ctx, `
        INSERT INTO tournaments(id, pool_size, started_at)
        VALUES ($1,$2,$3)
        ON CONFLICT (id) DO NOTHING
    `, id, poolSize, startedAt)
	return err
}

// FinishTournament stamps the champion once the final completes.
func (db *DB) FinishTournament(ctx context.Context, id uuid.UUID, champion string) error {
	_, err := db.Exec(ctx, `
        UPDATE tournaments
           SET champion = $2,
               finished_at = now()
         WHERE id = $1
    `, id, champion)
	return err
}
