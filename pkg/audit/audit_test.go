package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	t.Run("append assigns id and timestamp", func(t *testing.T) {
		id, err := store.Append(ctx, &Record{
			CollaborationID: "c1",
			StepID:          "s0",
			Worker:          "a",
			Kind:            KindInput,
			Content:         "the task",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	})

	t.Run("list preserves append order and filters by collaboration", func(t *testing.T) {
		_, err := store.Append(ctx, &Record{CollaborationID: "c1", StepID: "s0", Kind: KindOutput, Content: "out"})
		require.NoError(t, err)
		_, err = store.Append(ctx, &Record{CollaborationID: "c2", StepID: "s0", Kind: KindInput, Content: "other"})
		require.NoError(t, err)

		records, err := store.List(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, KindInput, records[0].Kind)
		assert.Equal(t, KindOutput, records[1].Kind)
		assert.False(t, records[0].CreatedAt.IsZero())
	})

	t.Run("list returns copies", func(t *testing.T) {
		records, err := store.List(ctx, "c1")
		require.NoError(t, err)
		records[0].Content = "tampered"

		fresh, err := store.List(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "the task", fresh[0].Content)
	})

	t.Run("unknown collaboration is empty", func(t *testing.T) {
		records, err := store.List(ctx, "nope")
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestNewSQLStoreValidation(t *testing.T) {
	_, err := NewSQLStore(nil, "postgres")
	require.Error(t, err)

	_, err = Open("oracle", "dsn")
	require.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: "postgres"}
	assert.Equal(t, "INSERT INTO t VALUES ($1, $2)", pg.rebind("INSERT INTO t VALUES (?, ?)"))

	my := &SQLStore{dialect: "mysql"}
	assert.Equal(t, "INSERT INTO t VALUES (?, ?)", my.rebind("INSERT INTO t VALUES (?, ?)"))
}
