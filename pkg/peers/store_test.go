package peers

import (
    "errors"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/memkv"
    "github.com/mhofer4991/WS2015-Aufgabe4/pkg/tree"
)

func TestStoreLifecycle(t *testing.T) {
    kv := memkv.New(memkv.Options{})
    defer kv.Close()
    s := NewStore(kv)

    up, down := tree.NewNode(1, "a"), tree.NewNode(2, "b")
    s.Connected(up, "10.0.0.1:7700", RoleParent)
    s.Connected(down, "10.0.0.2:51000", RoleChild)

    s.RecordExchange(up.UniqueID, 100, 40, 2, 1)
    s.RecordExchange(up.UniqueID, 10, 0, 1, 0)
    s.RecordKeepAlive(up.UniqueID, 1, 2)

    pm, ok := s.Get(up.UniqueID)
    require.True(t, ok)
    assert.Equal(t, up, pm.Node)
    assert.Equal(t, RoleParent, pm.Role)
    assert.Equal(t, uint64(110), pm.BytesIn)
    assert.Equal(t, uint64(3), pm.MsgsIn)
    assert.Equal(t, uint64(2), pm.KeepAlivesOut)

    s.Disconnected(up.UniqueID, errors.New("keep-alive timeout"))
    pm, _ = s.Get(up.UniqueID)
    assert.False(t, pm.Connected)
    assert.Equal(t, "keep-alive timeout", pm.DownError)
    ttl, ok := kv.TTL(keyPeer(up.UniqueID))
    require.True(t, ok)
    assert.Greater(t, ttl, time.Duration(0))

    list := s.List()
    require.Len(t, list, 2)
    assert.Equal(t, down, list[0].Node)
}
