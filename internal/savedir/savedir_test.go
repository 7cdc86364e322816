package savedir

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/computergrid/internal/storage"
	"github.com/vk/computergrid/internal/vfs"
)

func TestService_MountIsSharedPerKey(t *testing.T) {
	s := New(storage.NewMemoryStore(), Options{Capacities: map[string]int64{"computer": 100}})

	a, err := s.Mount("computer", 5)
	require.NoError(t, err)
	b, err := s.Mount("computer", 5)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, int64(100), a.Capacity())

	other, err := s.Mount("computer", 50)
	require.NoError(t, err)
	assert.NotSame(t, a, other)

	_, err = s.Mount("", 1)
	assert.Error(t, err)
}

func TestService_QuotaSharedAcrossUsers(t *testing.T) {
	s := New(storage.NewMemoryStore(), Options{Capacities: map[string]int64{"computer": 100}})

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := s.Mount("computer", 1)
			if err != nil {
				t.Error(err)
				return
			}
			fs := vfs.NewFileSystem(m)
			err = fs.WriteFile([]string{"a", "b"}[i], make([]byte, 60), false)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, vfs.ErrOutOfSpace) {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
}

func TestService_PersistsAcrossReload(t *testing.T) {
	store := storage.NewMemoryStore()
	s := New(store, Options{})
	m, err := s.Mount("computer", 3)
	require.NoError(t, err)
	require.NoError(t, vfs.NewFileSystem(m).WriteFile("startup.star", []byte("print(1)"), false))

	reloaded, err := New(store, Options{}).Mount("computer", 3)
	require.NoError(t, err)
	data, err := vfs.NewFileSystem(reloaded).ReadFile("startup.star")
	require.NoError(t, err)
	assert.Equal(t, "print(1)", string(data))
	assert.Equal(t, DefaultComputerCapacity-8, reloaded.RemainingSpace())
}

func TestService_NextID(t *testing.T) {
	store := storage.NewMemoryStore()
	s := New(store, Options{})

	for want := 0; want < 3; want++ {
		id, err := s.NextID("computer")
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
	id, err := s.NextID(DiskFamily)
	require.NoError(t, err)
	assert.Equal(t, 0, id)

	require.NoError(t, s.Reserve("computer", 10))
	require.NoError(t, s.Reserve("computer", 4))
	id, err = New(store, Options{}).NextID("computer")
	require.NoError(t, err)
	assert.Equal(t, 11, id)
}

func TestService_DiskCapacity(t *testing.T) {
	s := New(storage.NewMemoryStore(), Options{})
	d, err := s.Disk(2)
	require.NoError(t, err)
	assert.Equal(t, DefaultDiskCapacity, d.Capacity())
}
