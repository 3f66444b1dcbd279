package inference

import (
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTestServer(t *testing.T, eval PlaneEvaluator) *RemoteClient {
	t.Helper()
	srv := httptest.NewServer(NewRemoteHandler(eval, nil))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, err := DialRemote(url, time.Second, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRemote_ConcurrentCallsMatchResponses(t *testing.T) {
	c := dialTestServer(t, &fakeEvaluator{cells: 16})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			x := []float32{float32(i % 16), float32(i) / 100}
			policy, value, err := c.EvaluatePlanes(x)
			if !assert.NoError(t, err) {
				return
			}
			assert.Len(t, policy, 16)
			assert.Equal(t, float32(1), policy[i%16])
			assert.Equal(t, float32(i)/100, value)
		}(i)
	}
	wg.Wait()
}

func TestRemote_EvaluatorErrorIsReturned(t *testing.T) {
	c := dialTestServer(t, &fakeEvaluator{cells: 4, err: errors.New("no model loaded")})

	_, _, err := c.EvaluatePlanes([]float32{0, 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no model loaded")
}

func TestRemote_CallsAfterCloseFail(t *testing.T) {
	c := dialTestServer(t, &fakeEvaluator{cells: 4})
	_, _, err := c.EvaluatePlanes([]float32{1, 0})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	_, _, err = c.EvaluatePlanes([]float32{1, 0})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRemote_LostConnectionFailsCalls(t *testing.T) {
	c := dialTestServer(t, &fakeEvaluator{cells: 4})
	_, _, err := c.EvaluatePlanes([]float32{1, 0})
	require.NoError(t, err)

	require.NoError(t, c.conn.Close())
	<-c.done

	_, _, err = c.EvaluatePlanes([]float32{1, 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle connection")
}
