package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishQueuesEvent(t *testing.T) {
	h := NewHub(nil)
	h.Publish(EventRoleCreated, map[string]any{"role_id": 4})

	select {
	case msg := <-h.Broadcast:
		var ev struct {
			Type string         `json:"type"`
			Data map[string]any `json:"data"`
		}
		require.NoError(t, json.Unmarshal(msg, &ev))
		assert.Equal(t, EventRoleCreated, ev.Type)
		assert.EqualValues(t, 4, ev.Data["role_id"])
	case <-time.After(time.Second):
		t.Fatal("event was not queued")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	h.Publish(EventPermissionCreated, nil)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	h := NewHub(nil)
	returned := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Publish(EventRoleCreated, i)
		}
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full queue")
	}
	assert.Len(t, h.Broadcast, cap(h.Broadcast))
}

func TestStoppedHubDoesNotBlock(t *testing.T) {
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	returned := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Publish(EventPermissionCreated, i)
		}
		assert.False(t, h.Join(nil))
		h.Leave(nil)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("hub calls blocked after shutdown")
	}
	assert.Empty(t, h.Broadcast)
}
