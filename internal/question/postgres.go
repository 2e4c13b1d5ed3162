package question

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/quizbot/internal/domain"
	"github.com/victornm/quizbot/internal/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS questions (
	seq      BIGSERIAL PRIMARY KEY,
	id       INTEGER NOT NULL,
	question TEXT    NOT NULL,
	options  TEXT[]  NOT NULL,
	answer   INTEGER NOT NULL,
	category TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS questions_id_idx ON questions (id);`

// PostgresStore keeps questions in a single table. seq preserves insertion order and
// lets duplicate ids coexist.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the questions table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("question: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]domain.Question, error) {
	const stmt = `SELECT id, question, options, answer, category FROM questions ORDER BY seq;`

	return s.query(ctx, stmt)
}

func (s *PostgresStore) Get(ctx context.Context, id int) (domain.Question, error) {
	const stmt = `SELECT id, question, options, answer, category FROM questions WHERE id = $1 ORDER BY seq LIMIT 1;`

	var q domain.Question
	err := s.db.QueryRow(ctx, stmt, id).Scan(&q.ID, &q.Text, &q.Options, &q.CorrectIndex, &q.Category)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, errors.NotFound("question %d not found", id)
	}
	if err != nil {
		return domain.Question{}, errors.Internal(fmt.Errorf("get question %d: %w", id, err))
	}

	return q, nil
}

func (s *PostgresStore) ListByID(ctx context.Context, id int) ([]domain.Question, error) {
	const stmt = `SELECT id, question, options, answer, category FROM questions WHERE id = $1 ORDER BY seq;`

	qs, err := s.query(ctx, stmt, id)
	if err != nil {
		return nil, err
	}
	if len(qs) == 0 {
		return nil, errors.NotFound("question %d not found", id)
	}

	return qs, nil
}

func (s *PostgresStore) NextID(ctx context.Context) (int, error) {
	return nextIDTx(ctx, s.db)
}

func (s *PostgresStore) Insert(ctx context.Context, q domain.Question) error {
	if err := q.Validate(); err != nil {
		return err
	}

	if err := insertTx(ctx, s.db, q); err != nil {
		return errors.Internal(err)
	}

	return nil
}

func (s *PostgresStore) Create(ctx context.Context, q domain.Question) (_ domain.Question, err error) {
	if err := q.Validate(); err != nil {
		return domain.Question{}, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return domain.Question{}, errors.Internal(fmt.Errorf("begin transaction: %w", err))
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	// Blocks concurrent Create calls between reading max(id) and inserting.
	if _, err = tx.Exec(ctx, `LOCK TABLE questions IN SHARE ROW EXCLUSIVE MODE;`); err != nil {
		return domain.Question{}, errors.Internal(fmt.Errorf("lock questions: %w", err))
	}

	if q.ID, err = nextIDTx(ctx, tx); err != nil {
		return domain.Question{}, err
	}

	if err = insertTx(ctx, tx, q); err != nil {
		return domain.Question{}, errors.Internal(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return domain.Question{}, errors.Internal(fmt.Errorf("commit: %w", err))
	}

	return q, nil
}

func (s *PostgresStore) Update(ctx context.Context, id int, mutate func(q *domain.Question) error) (_ domain.Question, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return domain.Question{}, errors.Internal(fmt.Errorf("begin transaction: %w", err))
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const selStmt = `
SELECT seq, id, question, options, answer, category
FROM questions
WHERE id = $1
ORDER BY seq
LIMIT 1
FOR UPDATE;`

	var (
		seq int64
		q   domain.Question
	)
	err = tx.QueryRow(ctx, selStmt, id).Scan(&seq, &q.ID, &q.Text, &q.Options, &q.CorrectIndex, &q.Category)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, errors.NotFound("question %d not found", id)
	}
	if err != nil {
		return domain.Question{}, errors.Internal(fmt.Errorf("select question %d: %w", id, err))
	}

	if err = mutate(&q); err != nil {
		return domain.Question{}, err
	}
	q.ID = id
	if err = q.Validate(); err != nil {
		return domain.Question{}, err
	}

	const updStmt = `UPDATE questions SET question = $2, options = $3, answer = $4, category = $5 WHERE seq = $1;`
	if _, err = tx.Exec(ctx, updStmt, seq, q.Text, q.Options, q.CorrectIndex, q.Category); err != nil {
		return domain.Question{}, errors.Internal(fmt.Errorf("update question %d: %w", id, err))
	}

	if err = tx.Commit(ctx); err != nil {
		return domain.Question{}, errors.Internal(fmt.Errorf("commit: %w", err))
	}

	return q, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id int) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM questions WHERE id = $1;`, id)
	if err != nil {
		return 0, errors.Internal(fmt.Errorf("delete question %d: %w", id, err))
	}

	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM questions;`).Scan(&n); err != nil {
		return 0, errors.Internal(fmt.Errorf("count questions: %w", err))
	}

	return n, nil
}

func (s *PostgresStore) Categories(ctx context.Context) (map[string]int, error) {
	const stmt = `
SELECT COALESCE(NULLIF(category, ''), $1) AS category, COUNT(*)
FROM questions
GROUP BY 1;`

	rows, err := s.db.Query(ctx, stmt, domain.CategoryGeneral)
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("count categories: %w", err))
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			category string
			n        int
		)
		if err := rows.Scan(&category, &n); err != nil {
			return nil, errors.Internal(fmt.Errorf("scan category: %w", err))
		}
		out[category] = n
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Internal(err)
	}

	return out, nil
}

func (s *PostgresStore) query(ctx context.Context, stmt string, args ...any) ([]domain.Question, error) {
	rows, err := s.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("query questions: %w", err))
	}

	qs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Question, error) {
		var q domain.Question
		if err := r.Scan(&q.ID, &q.Text, &q.Options, &q.CorrectIndex, &q.Category); err != nil {
			return domain.Question{}, err
		}
		return q, nil
	})
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("collect questions: %w", err))
	}

	return qs, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func nextIDTx(ctx context.Context, db querier) (int, error) {
	var id int
	if err := db.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM questions;`).Scan(&id); err != nil {
		return 0, errors.Internal(fmt.Errorf("next question id: %w", err))
	}

	return id, nil
}

func insertTx(ctx context.Context, db execer, q domain.Question) error {
	const stmt = `INSERT INTO questions (id, question, options, answer, category) VALUES ($1, $2, $3, $4, $5);`

	if _, err := db.Exec(ctx, stmt, q.ID, q.Text, q.Options, q.CorrectIndex, q.Category); err != nil {
		return fmt.Errorf("insert question %d: %w", q.ID, err)
	}

	return nil
}
