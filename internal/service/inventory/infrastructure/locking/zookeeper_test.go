package locking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeq(t *testing.T) {
	seq, err := parseSeq("_c_6e2a48f913f74a9a9d1f7dcd0e3b8f21-lock-0000000042")
	require.NoError(t, err)
	assert.Equal(t, 42, seq)

	seq, err = parseSeq("lock-0000000007")
	require.NoError(t, err)
	assert.Equal(t, 7, seq)

	_, err = parseSeq("lock")
	require.Error(t, err)

	_, err = parseSeq("lock-")
	require.Error(t, err)

	_, err = parseSeq("lock-notanumber")
	require.Error(t, err)
}

func TestElectLockOrdersBySequenceNotByName(t *testing.T) {
	// 受保护节点名以随机 guid 开头: 后到的等待者可能拿到字典序更小的名字。
	// 选举必须按序号，先到的 seq-1 节点仍然是持有者。
	holder := "_c_ffffffffffffffffffffffffffffffff-lock-0000000001"
	waiter := "_c_00000000000000000000000000000000-lock-0000000002"
	children := []string{waiter, holder}

	isHolder, watch, err := electLock(children, waiter)
	require.NoError(t, err)
	assert.False(t, isHolder)
	assert.Equal(t, holder, watch)

	isHolder, watch, err = electLock(children, holder)
	require.NoError(t, err)
	assert.True(t, isHolder)
	assert.Empty(t, watch)
}

func TestElectLockSingleNodeHolds(t *testing.T) {
	node := "_c_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa-lock-0000000003"

	isHolder, watch, err := electLock([]string{node}, node)
	require.NoError(t, err)
	assert.True(t, isHolder)
	assert.Empty(t, watch)
}

func TestElectLockWatchesImmediatePredecessor(t *testing.T) {
	first := "_c_cccccccccccccccccccccccccccccccc-lock-0000000001"
	second := "_c_bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb-lock-0000000002"
	third := "_c_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa-lock-0000000003"
	children := []string{third, first, second}

	// 第三个节点只监听序号紧邻的前驱，不是序号最小的持有者
	isHolder, watch, err := electLock(children, third)
	require.NoError(t, err)
	assert.False(t, isHolder)
	assert.Equal(t, second, watch)

	isHolder, watch, err = electLock(children, second)
	require.NoError(t, err)
	assert.False(t, isHolder)
	assert.Equal(t, first, watch)
}

func TestElectLockOwnNodeMissing(t *testing.T) {
	_, _, err := electLock(
		[]string{"_c_bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb-lock-0000000002"},
		"_c_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa-lock-0000000001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestElectLockRejectsMalformedSibling(t *testing.T) {
	mine := "_c_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa-lock-0000000002"
	_, _, err := electLock([]string{mine, "garbage"}, mine)
	require.Error(t, err)
}
