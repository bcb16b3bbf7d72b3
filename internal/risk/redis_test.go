package risk

import (
	"encoding/json"
	"testing"

	"github.com/go-redis/redis/v8"
	redismock "github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/require"
)

func TestRedisStore_Load_Missing(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectGet(DefaultRedisKey).RedisNil()

	store := NewRedisStore(client, "")
	_, found, err := store.Load()
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_RoundTrip(t *testing.T) {
	snap := Snapshot{
		ExposureMicros: 123_000_000,
		DailyPnlMicros: -45_000_000,
		DailyDate:      "2026-03-01",
		Halted:         true,
		HaltReason:     "daily loss limit reached: -500",
	}
	payload, err := json.Marshal(snap)
	require.NoError(t, err)

	client, mock := redismock.NewClientMock()
	mock.ExpectSet("custom:key", payload, 0).SetVal("OK")
	mock.ExpectGet("custom:key").SetVal(string(payload))

	store := NewRedisStore(client, "custom:key")
	require.NoError(t, store.Save(snap))

	got, found, err := store.Load()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, snap, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Load_Error(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectGet(DefaultRedisKey).SetErr(redis.ErrClosed)

	store := NewRedisStore(client, "")
	_, _, err := store.Load()
	require.Error(t, err)
}
