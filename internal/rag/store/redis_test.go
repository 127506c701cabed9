package store

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/nexus/internal/model"
)

// redisListRecorder 拦截 Redis 命令，在进程内模拟列表语义
// 并记录每个管道的命令序列与 LTRIM 参数。
type redisListRecorder struct {
	lists     map[string][]string
	pipelines [][]string
	trims     [][2]int64
	expires   []int64
}

func newRecordedSessionStore(config *RedisSessionConfig) (*RedisSessionStore, *redisListRecorder) {
	rec := &redisListRecorder{lists: map[string][]string{}}
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"})
	client.AddHook(rec)
	return NewRedisSessionStore(client, config), rec
}

func (r *redisListRecorder) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, fmt.Errorf("unexpected dial to %s", addr)
	}
}

func (r *redisListRecorder) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		switch strings.ToLower(cmd.Name()) {
		case "lrange":
			key := cmd.Args()[1].(string)
			items := append([]string(nil), r.lists[key]...)
			cmd.(*goredis.StringSliceCmd).SetVal(items)
		case "del":
			delete(r.lists, cmd.Args()[1].(string))
		}
		return nil
	}
}

func (r *redisListRecorder) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		var names []string
		for _, cmd := range cmds {
			name := strings.ToLower(cmd.Name())
			switch name {
			case "multi", "exec":
				continue
			case "rpush":
				key := cmd.Args()[1].(string)
				for _, arg := range cmd.Args()[2:] {
					r.lists[key] = append(r.lists[key], argString(arg))
				}
			case "ltrim":
				key := cmd.Args()[1].(string)
				start := argInt64(cmd.Args()[2])
				stop := argInt64(cmd.Args()[3])
				r.trims = append(r.trims, [2]int64{start, stop})
				r.lists[key] = applyLTrim(r.lists[key], start, stop)
			case "expire":
				r.expires = append(r.expires, argInt64(cmd.Args()[2]))
			}
			names = append(names, name)
		}
		r.pipelines = append(r.pipelines, names)
		return nil
	}
}

func argString(v any) string {
	switch a := v.(type) {
	case string:
		return a
	case []byte:
		return string(a)
	default:
		return fmt.Sprint(a)
	}
}

func argInt64(v any) int64 {
	switch a := v.(type) {
	case int64:
		return a
	case int:
		return int64(a)
	default:
		return 0
	}
}

// applyLTrim 按 Redis LTRIM 语义裁剪列表，支持负索引。
func applyLTrim(list []string, start, stop int64) []string {
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil
	}
	return list[start : stop+1]
}

func TestSessionAppendKeepsMostRecentTurns(t *testing.T) {
	store, rec := newRecordedSessionStore(&RedisSessionConfig{
		TTL:       time.Hour,
		MaxTurns:  20,
		KeyPrefix: "nexus:session:",
	})
	ctx := context.Background()

	for i := 1; i <= 25; i++ {
		require.NoError(t, store.Append(ctx, "s1",
			model.SessionTurn{Role: model.RoleUser, Content: fmt.Sprintf("turn-%d", i)}))
	}

	history, err := store.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 20)
	for i, turn := range history {
		assert.Equal(t, fmt.Sprintf("turn-%d", i+6), turn.Content, "history out of order at %d", i)
	}

	// 每次写入都是 RPUSH、LTRIM、EXPIRE 的原子管道
	require.Len(t, rec.pipelines, 25)
	assert.Equal(t, []string{"rpush", "ltrim", "expire"}, rec.pipelines[len(rec.pipelines)-1])
	require.NotEmpty(t, rec.trims)
	assert.Equal(t, [2]int64{-20, -1}, rec.trims[len(rec.trims)-1])
	require.NotEmpty(t, rec.expires)
	assert.Equal(t, int64(3600), rec.expires[len(rec.expires)-1], "TTL in seconds")
}

func TestSessionAppendWritesBothRoles(t *testing.T) {
	store, _ := newRecordedSessionStore(nil)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "s1",
		model.SessionTurn{Role: model.RoleUser, Content: "what is the retry policy?"},
		model.SessionTurn{Role: model.RoleAssistant, Content: "Three attempts."},
	))

	history, err := store.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleUser, history[0].Role)
	assert.Equal(t, model.RoleAssistant, history[1].Role)
}

func TestSessionClearRemovesHistory(t *testing.T) {
	store, _ := newRecordedSessionStore(nil)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "s1",
		model.SessionTurn{Role: model.RoleUser, Content: "hi"}))
	require.NoError(t, store.Clear(ctx, "s1"))

	history, err := store.History(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, history)
}
