//go:build integration_test

package question_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizbot/internal/domain"
	"github.com/victornm/quizbot/internal/question"
)

func init() {
	factories["postgres"] = func(t *testing.T, seed ...domain.Question) question.Store {
		dsn := os.Getenv("QUIZBOT_TEST_POSTGRES_DSN")
		if dsn == "" {
			t.Skip("QUIZBOT_TEST_POSTGRES_DSN not set")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		db, err := pgxpool.New(ctx, dsn)
		require.NoError(t, err)
		t.Cleanup(db.Close)

		s := question.NewPostgresStore(db)
		require.NoError(t, s.Migrate(ctx))
		_, err = db.Exec(ctx, `TRUNCATE questions;`)
		require.NoError(t, err)

		for _, q := range seed {
			require.NoError(t, s.Insert(ctx, q))
		}

		return s
	}
}
