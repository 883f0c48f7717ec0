package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"globetrotter/internal/app/db"
	"globetrotter/internal/pkg/metrics"
)

// Querier is the subset of *pgxpool.Pool the data client uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DataClient reads and writes the hosted game tables and calls the game's
// remote procedures over a direct Postgres connection.
type DataClient struct {
	db      Querier
	metrics *metrics.Recorder
}

// NewDataClient returns a DataClient over q.
func NewDataClient(q Querier, rec *metrics.Recorder) *DataClient {
	return &DataClient{db: q, metrics: rec}
}

const destinationColumns = `id::bigint AS id, city, country,
	COALESCE(clues, '{}') AS clues, COALESCE(fun_fact, '{}') AS fun_fact, COALESCE(trivia, '{}') AS trivia`

func (c *DataClient) RandomDestination(ctx context.Context) (_ []Destination, err error) {
	defer c.observe("get_random_destination", time.Now(), &err)

	return c.queryDestinations(ctx, `SELECT `+destinationColumns+` FROM get_random_destination()`)
}

func (c *DataClient) MultipleDestinations(ctx context.Context, count int) (_ []Destination, err error) {
	defer c.observe("get_multiple_destinations", time.Now(), &err)

	return c.queryDestinations(ctx,
		`SELECT `+destinationColumns+` FROM get_multiple_destinations(count_param => $1)`, count)
}

func (c *DataClient) queryDestinations(ctx context.Context, sql string, args ...any) ([]Destination, error) {
	rows, err := c.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}

	destinations, err := pgx.CollectRows(rows, pgx.RowToStructByName[Destination])
	if err != nil {
		return nil, fmt.Errorf("scan destinations: %w", err)
	}
	return destinations, nil
}

func (c *DataClient) CheckAnswer(ctx context.Context, destinationID int64, guess string) (_ AnswerResult, err error) {
	defer c.observe("check_destination_answer", time.Now(), &err)

	rows, err := c.db.Query(ctx,
		`SELECT correct, COALESCE(fact, '') AS fact
		 FROM check_destination_answer(destination_id => $1, user_guess => $2)`,
		destinationID, guess,
	)
	if err != nil {
		return AnswerResult{}, err
	}

	results, err := pgx.CollectRows(rows, pgx.RowToStructByName[AnswerResult])
	if err != nil {
		return AnswerResult{}, fmt.Errorf("scan answer: %w", err)
	}
	if len(results) == 0 {
		return AnswerResult{}, fmt.Errorf("check_destination_answer returned no rows for destination %d", destinationID)
	}
	return results[0], nil
}

func (c *DataClient) UpdateUserScore(ctx context.Context, userID string, correct bool) (err error) {
	defer c.observe("update_user_score", time.Now(), &err)

	_, err = c.db.Exec(ctx,
		`SELECT update_user_score(user_id => $1::uuid, is_correct => $2)`,
		userID, correct,
	)
	return err
}

const profileColumns = `id::text AS id, username, score, games_played, created_at`

func (c *DataClient) GetProfile(ctx context.Context, userID string) (_ *Profile, err error) {
	defer c.observe("get_profile", time.Now(), &err)

	rows, err := c.db.Query(ctx, `SELECT `+profileColumns+` FROM user_profiles WHERE id = $1::uuid`, userID)
	if err != nil {
		return nil, notFound(err)
	}

	profile, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Profile])
	if err != nil {
		return nil, notFound(err)
	}
	return profile, nil
}

func (c *DataClient) UpsertProfile(ctx context.Context, userID, username string) (_ *Profile, err error) {
	defer c.observe("upsert_profile", time.Now(), &err)

	rows, err := c.db.Query(ctx,
		`INSERT INTO user_profiles (id, username, score, games_played)
		 VALUES ($1::uuid, $2, 0, 0)
		 ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username
		 RETURNING `+profileColumns,
		userID, username,
	)
	if err != nil {
		return nil, err
	}

	return pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Profile])
}

const inviteColumns = `id::text AS id, creator_id::text AS creator_id, current_score, created_at`

func (c *DataClient) CreateInviteSession(ctx context.Context, creatorID string, currentScore int) (_ *InviteSession, err error) {
	defer c.observe("create_invite_session", time.Now(), &err)

	rows, err := c.db.Query(ctx,
		`INSERT INTO game_sessions (creator_id, current_score)
		 VALUES ($1::uuid, $2)
		 RETURNING `+inviteColumns,
		creatorID, currentScore,
	)
	if err != nil {
		return nil, err
	}

	return pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[InviteSession])
}

func (c *DataClient) GetInviteSession(ctx context.Context, id string) (_ *InviteSession, err error) {
	defer c.observe("get_invite_session", time.Now(), &err)

	rows, err := c.db.Query(ctx, `SELECT `+inviteColumns+` FROM game_sessions WHERE id = $1::uuid`, id)
	if err != nil {
		return nil, notFound(err)
	}

	session, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[InviteSession])
	if err != nil {
		return nil, notFound(err)
	}
	return session, nil
}

// notFound maps missing rows and malformed ids to ErrNotFound.
func notFound(err error) error {
	if db.IsNotFound(err) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func (c *DataClient) observe(operation string, start time.Time, err *error) {
	c.metrics.ObserveGateway(operation, start, *err)
}
