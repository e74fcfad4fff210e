package router

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(t model.MessageType, role model.Role) *model.Envelope {
	return &model.Envelope{Type: t, SenderID: "c1", SenderRole: role}
}

func TestPublishRejectsUnknownType(t *testing.T) {
	r := New(nil, nil)
	called := false
	r.Subscribe(Wildcard, func(*model.Envelope) error { called = true; return nil })

	err := r.Publish(envelope("chat", model.RoleSource))
	require.ErrorIs(t, err, ErrUnknownType)
	assert.False(t, called)
}

func TestPublishStampsMissingTimestamp(t *testing.T) {
	r := New(nil, nil)
	env := envelope(model.MessageTypeHeartbeat, model.RoleObserver)

	require.NoError(t, r.Publish(env))
	assert.False(t, env.Timestamp.IsZero())

	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	env = envelope(model.MessageTypeHeartbeat, model.RoleObserver)
	env.Timestamp = fixed
	require.NoError(t, r.Publish(env))
	assert.Equal(t, fixed, env.Timestamp)
}

func TestPublishOrderTypedAndWildcard(t *testing.T) {
	r := New(nil, nil)
	var order []string
	r.Subscribe(model.MessageTypeHeartbeat, func(*model.Envelope) error { order = append(order, "a"); return nil })
	r.Subscribe(Wildcard, func(*model.Envelope) error { order = append(order, "wild"); return nil })
	r.Subscribe(model.MessageTypeHeartbeat, func(*model.Envelope) error { order = append(order, "b"); return nil })
	r.Subscribe(model.MessageTypeOffer, func(*model.Envelope) error { order = append(order, "offer"); return nil })

	require.NoError(t, r.Publish(envelope(model.MessageTypeHeartbeat, model.RoleObserver)))
	assert.Equal(t, []string{"a", "wild", "b"}, order)
}

func TestHandlerFailuresAreIsolated(t *testing.T) {
	r := New(nil, nil)
	var ran []string
	r.Subscribe(model.MessageTypeHeartbeat, func(*model.Envelope) error { ran = append(ran, "err"); return errors.New("boom") })
	r.Subscribe(model.MessageTypeHeartbeat, func(*model.Envelope) error { ran = append(ran, "panic"); panic("kaboom") })
	r.Subscribe(model.MessageTypeHeartbeat, func(*model.Envelope) error { ran = append(ran, "ok"); return nil })

	require.NoError(t, r.Publish(envelope(model.MessageTypeHeartbeat, model.RoleObserver)))
	assert.Equal(t, []string{"err", "panic", "ok"}, ran)
}

func TestPolicyViolationDiscardsObserverSync(t *testing.T) {
	for _, mt := range []model.MessageType{
		model.MessageTypeCapsuleSync,
		model.MessageTypeConstellationUpdate,
		model.MessageTypePlaybackControl,
	} {
		t.Run(string(mt), func(t *testing.T) {
			r := New(nil, nil)
			called := 0
			r.Subscribe(mt, func(*model.Envelope) error { called++; return nil })

			for _, role := range []model.Role{model.RoleObserver, model.RoleModerator, model.RoleHeirObserver, ""} {
				err := r.Publish(envelope(mt, role))
				require.ErrorIs(t, err, ErrPolicyViolation)
			}
			require.NoError(t, r.Publish(envelope(mt, model.RoleSource)))
			assert.Equal(t, 1, called)
		})
	}
}

func TestWithRolesScopesSubscriber(t *testing.T) {
	r := New(nil, nil)
	var got []model.Role
	r.Subscribe(model.MessageTypeHeartbeat, func(env *model.Envelope) error {
		got = append(got, env.SenderRole)
		return nil
	}, WithRoles(model.RoleModerator, model.RoleSource))

	for _, role := range []model.Role{model.RoleObserver, model.RoleModerator, model.RoleSource, model.RoleHeirObserver} {
		require.NoError(t, r.Publish(envelope(model.MessageTypeHeartbeat, role)))
	}
	assert.Equal(t, []model.Role{model.RoleModerator, model.RoleSource}, got)
}

func TestUnsubscribe(t *testing.T) {
	r := New(nil, nil)
	calls := 0
	unsub := r.Subscribe(model.MessageTypeHeartbeat, func(*model.Envelope) error { calls++; return nil })
	require.Equal(t, 1, r.Len())

	require.NoError(t, r.Publish(envelope(model.MessageTypeHeartbeat, model.RoleObserver)))
	unsub()
	unsub()
	require.NoError(t, r.Publish(envelope(model.MessageTypeHeartbeat, model.RoleObserver)))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, r.Len())
}

func TestUnsubscribeDuringDispatch(t *testing.T) {
	r := New(nil, nil)
	var unsub func()
	second := 0
	unsub = r.Subscribe(model.MessageTypeHeartbeat, func(*model.Envelope) error { unsub(); return nil })
	r.Subscribe(model.MessageTypeHeartbeat, func(*model.Envelope) error { second++; return nil })

	require.NoError(t, r.Publish(envelope(model.MessageTypeHeartbeat, model.RoleObserver)))
	require.NoError(t, r.Publish(envelope(model.MessageTypeHeartbeat, model.RoleObserver)))
	assert.Equal(t, 2, second)
	assert.Equal(t, 1, r.Len())
}

func TestConcurrentPublish(t *testing.T) {
	r := New(nil, nil)
	var count atomic.Int64
	r.Subscribe(Wildcard, func(*model.Envelope) error { count.Add(1); return nil })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = r.Publish(envelope(model.MessageTypeHeartbeat, model.RoleObserver))
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				unsub := r.Subscribe(model.MessageTypeOffer, func(*model.Envelope) error { return nil })
				unsub()
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 800, count.Load())
}
