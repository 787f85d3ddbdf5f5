package orchestrator

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/toolflow/pkg/toolcall"
	"github.com/stretchr/testify/assert"
)

func TestDedupKey_IgnoresArgumentOrder(t *testing.T) {
	a := toolcall.New("geocode", map[string]interface{}{"city": "Paris", "country": "FR"})
	b := toolcall.New("geocode", map[string]interface{}{"country": "FR", "city": "Paris"})
	c := toolcall.New("geocode", map[string]interface{}{"city": "Lyon", "country": "FR"})

	ka, ok := dedupKey(a)
	assert.True(t, ok)
	kb, _ := dedupKey(b)
	kc, _ := dedupKey(c)

	assert.Equal(t, ka, kb)
	assert.NotEqual(t, ka, kc)
}

func TestDedupKey_DistinguishesNames(t *testing.T) {
	ka, _ := dedupKey(toolcall.New("a", nil))
	kb, _ := dedupKey(toolcall.New("b", nil))
	assert.NotEqual(t, ka, kb)
}

func TestDedupKey_UnencodableArguments(t *testing.T) {
	_, ok := dedupKey(toolcall.New("a", map[string]interface{}{"ch": make(chan int)}))
	assert.False(t, ok)
}

func TestDedupGroup_ConcurrentDuplicatesRunOnce(t *testing.T) {
	d := newDedupGroup()
	var runs int32

	calls := make([]*toolcall.ToolCall, 5)
	for i := range calls {
		calls[i] = toolcall.New("geocode", map[string]interface{}{"city": "Paris"})
	}

	var wg sync.WaitGroup
	for _, call := range calls {
		wg.Add(1)
		go func(call *toolcall.ToolCall) {
			defer wg.Done()
			d.Do(call, func(c *toolcall.ToolCall) {
				atomic.AddInt32(&runs, 1)
				time.Sleep(20 * time.Millisecond)
				c.Attempts = 1
				c.Succeed("48.85,2.35", c.Name, time.Now())
			})
		}(call)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
	assert.Equal(t, 1, d.Size())

	followers := 0
	for _, call := range calls {
		assert.Equal(t, toolcall.StatusSucceeded, call.Status)
		assert.Equal(t, "48.85,2.35", call.Result)
		assert.Equal(t, 1, call.Attempts)
		if call.Deduplicated {
			followers++
		}
	}
	assert.Equal(t, 4, followers)
}

func TestDedupGroup_LaterDuplicateReusesOutcome(t *testing.T) {
	d := newDedupGroup()
	var runs int

	run := func(c *toolcall.ToolCall) {
		runs++
		c.Fail(toolcall.NewCallError(toolcall.ErrTimeout, c.Name, "slow"), time.Now())
	}

	first := toolcall.New("weather", nil)
	second := toolcall.New("weather", nil)
	d.Do(first, run)
	d.Do(second, run)

	assert.Equal(t, 1, runs)
	assert.False(t, first.Deduplicated)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, toolcall.StatusFailed, second.Status)
	assert.Equal(t, first.Err, second.Err)
}
