package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yfffy/simplemeet/internal/service"
)

// 以内存存储组装的端到端测试：走真实的 Service 组合路径，
// 覆盖创建-加入往返、空房间删除与扫描三步语义。

func newRoundtripService(store *fakeStore) *service.ShareService {
	return service.NewShareService(store, newFakeLimiter(), service.DefaultConfig())
}

func TestShareService_CreateThenJoin_YieldsTwoMembers(t *testing.T) {
	// Arrange
	store := newFakeStore()
	svc := newRoundtripService(store)
	ctx := context.Background()

	_, err := svc.Connect(ctx, "conn-1")
	require.NoError(t, err)
	_, err = svc.Connect(ctx, "conn-2")
	require.NoError(t, err)

	// Act
	created, err := svc.CreateShare(ctx, "conn-1", "Alice")
	require.NoError(t, err)
	joined, err := svc.JoinShare(ctx, "conn-2", created.Share.Code, "Bob")
	require.NoError(t, err)

	// Assert: 两个成员，颜色按加入顺序各不相同
	assert.Len(t, joined.Members, 2)
	assert.Equal(t, service.NextColor(0), created.Member.Color)
	assert.Equal(t, service.NextColor(1), joined.Member.Color)

	count, err := store.CountMembers(ctx, created.Share.Code)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestShareService_LastDisconnectDeletesShare(t *testing.T) {
	// Arrange
	store := newFakeStore()
	svc := newRoundtripService(store)
	ctx := context.Background()

	created, err := svc.CreateShare(ctx, "conn-1", "")
	require.NoError(t, err)
	code := created.Share.Code

	// Act: 最后一个成员断开
	result, err := svc.Disconnect(ctx, "conn-1")
	require.NoError(t, err)

	// Assert: Share 立即删除，后续加入失败
	assert.True(t, result.ShareClosed)
	exists, _ := store.ShareExists(ctx, code)
	assert.False(t, exists)

	_, err = svc.JoinShare(ctx, "conn-2", code, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrShareNotFound))
}

func TestShareService_MoveBetweenShares_ClosesEmptiedShare(t *testing.T) {
	// Arrange: conn-1 独自在 Share A，conn-2 在 Share B
	store := newFakeStore()
	svc := newRoundtripService(store)
	ctx := context.Background()

	a, err := svc.CreateShare(ctx, "conn-1", "")
	require.NoError(t, err)
	b, err := svc.CreateShare(ctx, "conn-2", "")
	require.NoError(t, err)

	// Act: conn-1 换到 Share B
	joined, err := svc.JoinShare(ctx, "conn-1", b.Share.Code, "")
	require.NoError(t, err)

	// Assert: 变空的 Share A 立即删除，旧房间信息随结果返回
	require.NotNil(t, joined.Left)
	assert.Equal(t, a.Share.Code, joined.Left.ShareCode)
	assert.True(t, joined.Left.ShareClosed)
	exists, _ := store.ShareExists(ctx, a.Share.Code)
	assert.False(t, exists)

	count, _ := store.CountMembers(ctx, b.Share.Code)
	assert.Equal(t, int64(2), count)
}

func TestShareService_UpdateThrottledWithinInterval(t *testing.T) {
	// Arrange
	store := newFakeStore()
	svc := newRoundtripService(store)
	ctx := context.Background()

	_, err := svc.CreateShare(ctx, "conn-1", "")
	require.NoError(t, err)

	// Act: 间隔内的两次更新
	_, first, err := svc.UpdateLocation(ctx, "conn-1", 40.7, -74.0, nil)
	require.NoError(t, err)
	_, second, err := svc.UpdateLocation(ctx, "conn-1", 40.8, -74.1, nil)
	require.NoError(t, err)

	// Assert: 恰好接受一次
	assert.True(t, first)
	assert.False(t, second)
}

func TestShareService_Sweep_RemovesExpiredShareWithMembers(t *testing.T) {
	// Arrange
	store := newFakeStore()
	svc := newRoundtripService(store)
	ctx := context.Background()
	now := time.Now()

	created, err := svc.CreateShare(ctx, "conn-1", "")
	require.NoError(t, err)
	_, err = svc.JoinShare(ctx, "conn-2", created.Share.Code, "")
	require.NoError(t, err)

	// Share 已过期
	store.setShareTimes(created.Share.Code, now.Add(-25*time.Hour), now.Add(-time.Hour))

	// Act
	result, err := svc.Sweep(ctx, now)
	require.NoError(t, err)

	// Assert: Share 连同成员一起消失
	assert.Equal(t, int64(1), result.SharesRemoved)
	exists, _ := store.ShareExists(ctx, created.Share.Code)
	assert.False(t, exists)
	count, _ := store.CountMembers(ctx, created.Share.Code)
	assert.Equal(t, int64(0), count)
}

func TestShareService_Sweep_RemovesStaleMemberFromLiveShare(t *testing.T) {
	// Arrange: Share 未过期，但其中一个成员已陈旧
	store := newFakeStore()
	svc := newRoundtripService(store)
	ctx := context.Background()
	now := time.Now()

	created, err := svc.CreateShare(ctx, "conn-1", "")
	require.NoError(t, err)
	_, err = svc.JoinShare(ctx, "conn-2", created.Share.Code, "")
	require.NoError(t, err)
	store.setMemberLastUpdate("conn-2", now.Add(-20*time.Minute))

	// Act
	result, err := svc.Sweep(ctx, now)
	require.NoError(t, err)

	// Assert: 只有陈旧成员被移除，Share 仍然存活
	assert.Equal(t, int64(1), result.MembersRemoved)
	assert.Equal(t, int64(0), result.SharesRemoved)
	count, _ := store.CountMembers(ctx, created.Share.Code)
	assert.Equal(t, int64(1), count)
}

func TestShareService_Sweep_RemovesShareEmptiedByStaleMembers(t *testing.T) {
	// Arrange: 全部成员都陈旧，Share 本身未过期
	store := newFakeStore()
	svc := newRoundtripService(store)
	ctx := context.Background()
	now := time.Now()

	created, err := svc.CreateShare(ctx, "conn-1", "")
	require.NoError(t, err)
	code := created.Share.Code
	store.setShareTimes(code, now.Add(-2*time.Hour), now.Add(22*time.Hour))
	store.setMemberLastUpdate("conn-1", now.Add(-30*time.Minute))

	// Act
	result, err := svc.Sweep(ctx, now)
	require.NoError(t, err)

	// Assert: 成员被移除后 Share 变空，随即一并删除
	assert.Equal(t, int64(1), result.MembersRemoved)
	assert.Equal(t, int64(1), result.SharesRemoved)
	exists, _ := store.ShareExists(ctx, code)
	assert.False(t, exists)
}

func TestShareService_Sweep_GracePeriodSparesFreshEmptyShare(t *testing.T) {
	// Arrange: 模拟创建 Share 与绑定首个成员之间的窗口
	store := newFakeStore()
	svc := newRoundtripService(store)
	ctx := context.Background()
	now := time.Now()

	store.insertEmptyShare("NEW-000", now, now.Add(24*time.Hour))
	store.insertEmptyShare("OLD-000", now.Add(-5*time.Minute), now.Add(24*time.Hour))

	// Act
	result, err := svc.Sweep(ctx, now)
	require.NoError(t, err)

	// Assert: 宽限期内的空 Share 保留，过了宽限期的被回收
	assert.Equal(t, int64(1), result.SharesRemoved)
	fresh, _ := store.ShareExists(ctx, "NEW-000")
	assert.True(t, fresh)
	aged, _ := store.ShareExists(ctx, "OLD-000")
	assert.False(t, aged)
}
