package dispatch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/connectivity"
)

func TestNewPool_CreatesAllSlots(t *testing.T) {
	p, err := NewPool("vector-service", "127.0.0.1:1", 5, nil)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 5, p.Size())
	for i := range p.slots {
		assert.NotNil(t, p.slots[i].Load(), "slot %d", i)
	}
}

func TestNewPool_RejectsInvalidSize(t *testing.T) {
	_, err := NewPool("vector-service", "127.0.0.1:1", 0, nil)
	assert.Error(t, err)
}

func TestNewPool_FailsOnUnresolvableTarget(t *testing.T) {
	// An unregistered resolver scheme makes connection creation fail,
	// which must abort the whole pool.
	_, err := NewPool("vector-service", "bogus-scheme://nowhere", 3, nil)
	assert.Error(t, err)
}

func TestPool_SelectRoundRobin(t *testing.T) {
	p, err := NewPool("vector-service", "127.0.0.1:1", 3, nil)
	require.NoError(t, err)
	defer p.Close()

	for i := 0; i < 9; i++ {
		conn, idx := p.Select()
		assert.Equal(t, i%3, idx, "call %d", i)
		assert.NotNil(t, conn)
	}
}

func TestPool_ReplaceSwapsSlotAndClosesOld(t *testing.T) {
	p, err := NewPool("vector-service", "127.0.0.1:1", 2, nil)
	require.NoError(t, err)
	defer p.Close()

	old := p.slots[1].Load()
	require.NoError(t, p.Replace(1))

	replaced := p.slots[1].Load()
	assert.NotSame(t, old, replaced)
	assert.Equal(t, connectivity.Shutdown, old.GetState())

	// The other slot is untouched and the pool size is unchanged.
	assert.NotEqual(t, connectivity.Shutdown, p.slots[0].Load().GetState())
	assert.Equal(t, 2, p.Size())
}

func TestPool_ReplaceRejectsOutOfRangeIndex(t *testing.T) {
	p, err := NewPool("vector-service", "127.0.0.1:1", 2, nil)
	require.NoError(t, err)
	defer p.Close()

	assert.Error(t, p.Replace(-1))
	assert.Error(t, p.Replace(2))
}

func TestPool_SelectDuringConcurrentReplace(t *testing.T) {
	p, err := NewPool("vector-service", "127.0.0.1:1", 4, nil)
	require.NoError(t, err)
	defer p.Close()

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				conn, idx := p.Select()
				assert.NotNil(t, conn)
				assert.GreaterOrEqual(t, idx, 0)
				assert.Less(t, idx, 4)
			}
		}()
		go func(slot int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				assert.NoError(t, p.Replace(slot))
			}
		}(g)
	}
	wg.Wait()
}

func TestPool_CloseClosesEverySlot(t *testing.T) {
	p, err := NewPool("vector-service", "127.0.0.1:1", 3, nil)
	require.NoError(t, err)

	conns := make([]interface{ GetState() connectivity.State }, 0, 3)
	for i := range p.slots {
		conns = append(conns, p.slots[i].Load())
	}

	require.NoError(t, p.Close())
	for i, conn := range conns {
		assert.Equal(t, connectivity.Shutdown, conn.GetState(), "slot %d", i)
	}
}
