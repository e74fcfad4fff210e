package coordinator

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
)

type fakeTransport struct {
	inbound chan []byte
	done    chan struct{}
	once    sync.Once
	onClose func()

	mu      sync.Mutex
	written [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case data := <-t.inbound:
		return data, nil
	case <-t.done:
		return nil, io.EOF
	}
}

func (t *fakeTransport) WriteMessage(data []byte) error {
	select {
	case <-t.done:
		return io.ErrClosedPipe
	default:
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.written = append(t.written, append([]byte(nil), data...))
	return nil
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() {
		close(t.done)
		if t.onClose != nil {
			t.onClose()
		}
	})
	return nil
}

// drop simulates the server going away
func (t *fakeTransport) drop() {
	t.once.Do(func() { close(t.done) })
}

func (t *fakeTransport) push(env *model.Envelope) {
	data, err := env.Marshal()
	if err != nil {
		panic(err)
	}
	t.inbound <- data
}

func (t *fakeTransport) sentTypes() []model.MessageType {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []model.MessageType
	for _, data := range t.written {
		env, err := model.ParseEnvelope(data)
		if err == nil {
			out = append(out, env.Type)
		}
	}
	return out
}

func (t *fakeTransport) sent() []*model.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*model.Envelope
	for _, data := range t.written {
		if env, err := model.ParseEnvelope(data); err == nil {
			out = append(out, env)
		}
	}
	return out
}

// fakeDialer hands out transports from a script. A nil entry fails the dial.
type fakeDialer struct {
	mu      sync.Mutex
	script  []func(Target) (*fakeTransport, error)
	targets []Target
	// fallback is used once the script runs out
	fallback func(Target) (*fakeTransport, error)
}

func (d *fakeDialer) Dial(_ context.Context, target Target) (Transport, error) {
	d.mu.Lock()
	d.targets = append(d.targets, target)
	var step func(Target) (*fakeTransport, error)
	if len(d.script) > 0 {
		step, d.script = d.script[0], d.script[1:]
	} else {
		step = d.fallback
	}
	d.mu.Unlock()

	if step == nil {
		return nil, errors.New("connection refused")
	}
	t, err := step(target)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.targets)
}

func assignment(clientID string, role model.Role) *model.Envelope {
	env, err := model.NewEnvelope(model.MessageTypeRoleAssignment, model.ServerSenderID, model.RoleSource,
		model.RoleAssignment{ClientID: clientID, Role: role, Status: model.AssignmentAssigned})
	if err != nil {
		panic(err)
	}
	return env
}

// handshaking returns a dial step that assigns the given role
func handshaking(clientID string, role model.Role, created chan<- *fakeTransport) func(Target) (*fakeTransport, error) {
	return func(Target) (*fakeTransport, error) {
		t := newFakeTransport()
		t.push(assignment(clientID, role))
		if created != nil {
			created <- t
		}
		return t, nil
	}
}

// silent returns a dial step whose transport never sends anything
func silent() func(Target) (*fakeTransport, error) {
	return func(Target) (*fakeTransport, error) {
		return newFakeTransport(), nil
	}
}

func drainEvents(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countKind(events []Event, kind EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type orderLog struct {
	mu    sync.Mutex
	steps []string
}

func (o *orderLog) add(step string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steps = append(o.steps, step)
}

func (o *orderLog) list() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.steps...)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
