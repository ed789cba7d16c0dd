package query

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPeerQuery(t *testing.T) {
	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	blocked := true
	query, args, err := buildPeerQuery(PeerRequest{Node: 7, Peer: 9, Since: since, Blocked: &blocked, Limit: 10})
	require.NoError(t, err)

	assert.Contains(t, query, "FROM node_traffic")
	assert.Contains(t, query, " AND (FromNode = ? OR ToNode = ?) AND Timestamp >= ? AND Blocked = ?")
	assert.NotContains(t, query, "Timestamp <= ?")
	assert.Equal(t, strings.Count(query, "?"), len(args))
	assert.Equal(t, []any{uint32(7), uint32(7), uint32(7), uint32(9), uint32(9), since, uint8(1), 10}, args)
}

func TestBuildPeerQueryDefaults(t *testing.T) {
	query, args, err := buildPeerQuery(PeerRequest{Node: 1})
	require.NoError(t, err)
	assert.Equal(t, strings.Count(query, "?"), len(args))
	assert.Equal(t, defaultLimit, args[len(args)-1])
}

func TestBuildPeerQueryRejects(t *testing.T) {
	_, _, err := buildPeerQuery(PeerRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	now := time.Now()
	_, _, err = buildPeerQuery(PeerRequest{Node: 1, Since: now, Until: now.Add(-time.Hour)})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestBuildTopNodesQuery(t *testing.T) {
	query, args := buildTopNodesQuery(time.Time{}, 5)
	assert.NotContains(t, query, "WHERE")
	assert.Equal(t, []any{5}, args)

	since := time.Unix(1700000000, 0)
	query, args = buildTopNodesQuery(since, 0)
	assert.Contains(t, query, "WHERE Timestamp >= ?")
	assert.Equal(t, []any{since, defaultLimit}, args)
}
