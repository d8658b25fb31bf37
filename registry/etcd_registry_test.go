package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRegistry connects to a local etcd, or skips the test when none is
// reachable. The etcd client connects lazily, so reachability is probed with
// a short Get.
func newTestRegistry(t *testing.T) *EtcdRegistry {
	t.Helper()
	reg, err := NewEtcdRegistry([]string{"127.0.0.1:2379"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := reg.client.Get(ctx, keyPrefix); err != nil {
		reg.Close()
		t.Skipf("etcd not reachable on 127.0.0.1:2379: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestRegisterAndDiscover(t *testing.T) {
	reg := newTestRegistry(t)

	inst1 := ServerInstance{ID: "calc-1", Weight: 10, Version: "1.0"}
	inst2 := ServerInstance{ID: "calc-2", Weight: 5, Version: "1.0"}

	require.NoError(t, reg.Register("calc", inst1, 10))
	require.NoError(t, reg.Register("calc", inst2, 10))

	instances, err := reg.Discover("calc")
	require.NoError(t, err)
	require.Len(t, instances, 2)

	require.NoError(t, reg.Deregister("calc", inst1.ID))
	time.Sleep(100 * time.Millisecond)

	instances, err = reg.Discover("calc")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, inst2.ID, instances[0].ID)
	assert.Equal(t, inst2.Weight, instances[0].Weight)

	require.NoError(t, reg.Deregister("calc", inst2.ID))
}

func TestWatch(t *testing.T) {
	reg := newTestRegistry(t)

	watch := reg.Watch("watched")
	require.NoError(t, reg.Register("watched", ServerInstance{ID: "w-1", Weight: 1}, 10))

	select {
	case instances := <-watch:
		require.Len(t, instances, 1)
		assert.Equal(t, "w-1", instances[0].ID)
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not report the registration")
	}

	require.NoError(t, reg.Deregister("watched", "w-1"))
}
