package storage

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()

	b, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"badger": b,
	}
}

func TestStore_GetPutDelete(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get("missing")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Put("computer/5/f/startup.star", []byte("print(1)")))
			v, err := s.Get("computer/5/f/startup.star")
			require.NoError(t, err)
			assert.Equal(t, "print(1)", string(v))

			require.NoError(t, s.Delete("computer/5/f/startup.star"))
			_, err = s.Get("computer/5/f/startup.star")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_KeysByPrefix(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"computer/1/f/a", "computer/1/d/b", "computer/10/f/c", "disk/1/f/x"} {
				require.NoError(t, s.Put(k, nil))
			}

			keys, err := s.Keys("computer/1/")
			require.NoError(t, err)
			assert.Equal(t, []string{"computer/1/d/b", "computer/1/f/a"}, keys)

			keys, err = s.Keys("nothing/")
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestStore_ValuesAreCopied(t *testing.T) {
	s := NewMemoryStore()
	buf := []byte("abc")
	require.NoError(t, s.Put("k", buf))
	buf[0] = 'z'

	v, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(v))
}

func TestStore_ConcurrentAccess(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					key := fmt.Sprintf("k/%02d", i)
					if err := s.Put(key, []byte(key)); err != nil {
						t.Errorf("put %s: %v", key, err)
					}
				}(i)
			}
			wg.Wait()

			keys, err := s.Keys("k/")
			require.NoError(t, err)
			assert.Len(t, keys, 50)
		})
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())
	_, err := s.Get("k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Put("k", nil), ErrClosed)
}
