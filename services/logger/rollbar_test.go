package logsvc

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/rollbar/rollbar-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/user"
)

type reportedItem struct {
	level  string
	msg    string
	err    error
	person *rollbar.Person
	extras map[string]interface{}
}

// captureReports swaps the Rollbar reporter for one recording the items, and restores it after the test.
func captureReports(t *testing.T) func() []reportedItem {
	t.Helper()
	var mu sync.Mutex
	var items []reportedItem
	orig := report
	report = func(level string, args ...interface{}) {
		item := reportedItem{level: level}
		for _, arg := range args {
			switch v := arg.(type) {
			case string:
				item.msg = v
			case error:
				item.err = v
			case context.Context:
				item.person, _ = rollbar.PersonFromContext(v)
			case map[string]interface{}:
				item.extras = v
			}
		}
		mu.Lock()
		items = append(items, item)
		mu.Unlock()
	}
	t.Cleanup(func() { report = orig })
	return func() []reportedItem {
		mu.Lock()
		defer mu.Unlock()
		return append([]reportedItem{}, items...)
	}
}

func newTestLogger() *RollbarLogger {
	l := NewRollbarLogger(log.New(io.Discard, "", 0), &core.Config{Env: "test"})
	l.Enable(false)
	return l
}

func TestRollbarLogger_concurrentPeople(t *testing.T) {
	reported := captureReports(t)
	logger := newTestLogger()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			usr := user.User{ID: fmt.Sprintf("id-%d", i), Username: fmt.Sprintf("user%d", i)}
			logger.Error(fmt.Sprintf("request %d", i), errors.New("boom"), usr)
		}(i)
	}
	wg.Wait()

	items := reported()
	require.Len(t, items, 50)
	for _, item := range items {
		require.NotNil(t, item.person, item.msg)
		var n int
		_, err := fmt.Sscanf(item.msg, "request %d", &n)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("id-%d", n), item.person.Id)
		assert.Equal(t, fmt.Sprintf("user%d", n), item.person.Username)
		assert.Equal(t, rollbar.ERR, item.level)
		assert.EqualError(t, item.err, "boom")
	}
}

func TestRollbarLogger_prepare(t *testing.T) {
	reported := captureReports(t)
	logger := newTestLogger()

	logger.Warn("anonymous", user.User{}, map[string]interface{}{"route": "/v1/projects/:project_id"}, 42)
	logger.Info("plain")

	items := reported()
	require.Len(t, items, 2)
	assert.Equal(t, rollbar.WARN, items[0].level)
	assert.Nil(t, items[0].person, "a user without an ID is not reported as a person")
	assert.Equal(t, map[string]interface{}{"route": "/v1/projects/:project_id", "arg2": "42"}, items[0].extras)

	assert.Equal(t, "plain", items[1].msg)
	assert.Nil(t, items[1].person)
	assert.Nil(t, items[1].extras)
}
