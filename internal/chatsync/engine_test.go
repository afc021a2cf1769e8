package chatsync

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

type fakeAPI struct {
	mu       sync.Mutex
	fetch    func(ctx context.Context, cursor Cursor) ([]Message, error)
	send     func(ctx context.Context, body string) (*Message, error)
	fetches  []Cursor
	sends    []string
	reads    int
	readDone chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{readDone: make(chan struct{}, 16)}
}

func (f *fakeAPI) FetchSince(ctx context.Context, conversationID string, cursor Cursor) ([]Message, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, cursor)
	fetch := f.fetch
	f.mu.Unlock()
	if fetch == nil {
		return nil, nil
	}
	return fetch(ctx, cursor)
}

func (f *fakeAPI) SendMessage(ctx context.Context, conversationID, body string) (*Message, error) {
	f.mu.Lock()
	f.sends = append(f.sends, body)
	send := f.send
	f.mu.Unlock()
	if send == nil {
		m := msg("sent-"+body, time.Minute, body)
		return &m, nil
	}
	return send(ctx, body)
}

func (f *fakeAPI) MarkRead(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	f.reads++
	f.mu.Unlock()
	f.readDone <- struct{}{}
	return nil
}

func (f *fakeAPI) counts() (fetches, sends, reads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetches), len(f.sends), f.reads
}

func newTestEngine(t *testing.T, api MessageAPI, onChange func([]Message), onUnauth func()) *Engine {
	t.Helper()
	e, err := NewEngine(EngineConfig{
		API:               api,
		ConversationID:    "c1",
		OnChange:          onChange,
		OnUnauthenticated: onUnauth,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestNewEngine_Validation(t *testing.T) {
	if _, err := NewEngine(EngineConfig{ConversationID: "c1"}); err == nil {
		t.Fatalf("expected error without API")
	}
	if _, err := NewEngine(EngineConfig{API: newFakeAPI()}); err == nil {
		t.Fatalf("expected error without conversation id")
	}
}

func TestEngine_EmptyConversation(t *testing.T) {
	api := newFakeAPI()
	changes := 0
	e := newTestEngine(t, api, func([]Message) { changes++ }, nil)

	if err := e.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(e.Messages()) != 0 {
		t.Fatalf("expected empty log")
	}
	if e.Cursor().IsSet() {
		t.Fatalf("cursor should stay unset after an empty fetch")
	}
	if _, _, reads := api.counts(); reads != 0 {
		t.Fatalf("empty fetch must not mark read, got %d", reads)
	}
	if changes != 0 {
		t.Fatalf("expected no change notifications, got %d", changes)
	}
}

func TestEngine_FirstPollFetchesEverything(t *testing.T) {
	api := newFakeAPI()
	api.fetch = func(ctx context.Context, cursor Cursor) ([]Message, error) {
		if cursor.IsSet() {
			return nil, nil
		}
		return []Message{msg("b", time.Second, "two"), msg("a", 0, "one")}, nil
	}
	e := newTestEngine(t, api, nil, nil)

	if err := e.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if ids(e.Messages()) != "a,b" {
		t.Fatalf("expected a,b got %s", ids(e.Messages()))
	}
	if !e.Cursor().Time().Equal(epoch.Add(time.Second)) {
		t.Fatalf("unexpected cursor %s", e.Cursor())
	}

	select {
	case <-api.readDone:
	case <-time.After(time.Second):
		t.Fatalf("expected a read receipt after a non-empty fetch")
	}

	if err := e.Poll(context.Background()); err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	api.mu.Lock()
	second := api.fetches[1]
	api.mu.Unlock()
	if !second.IsSet() || !second.Time().Equal(epoch.Add(time.Second)) {
		t.Fatalf("second fetch should use the advanced cursor, got %s", second)
	}
}

func TestEngine_SendThenNoopPoll(t *testing.T) {
	api := newFakeAPI()
	sent := msg("m1", 10*time.Second, "hello")
	api.send = func(ctx context.Context, body string) (*Message, error) {
		m := sent
		return &m, nil
	}
	// The server may return the boundary message again; the merge absorbs it.
	api.fetch = func(ctx context.Context, cursor Cursor) ([]Message, error) {
		return []Message{sent}, nil
	}
	var snapshots [][]Message
	e := newTestEngine(t, api, func(log []Message) { snapshots = append(snapshots, log) }, nil)

	m, err := e.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if m.ID != "m1" {
		t.Fatalf("unexpected message %+v", m)
	}
	if ids(e.Messages()) != "m1" {
		t.Fatalf("expected m1 in log, got %s", ids(e.Messages()))
	}
	if !e.Cursor().Time().Equal(sent.CreatedAt) {
		t.Fatalf("send should advance the cursor, got %s", e.Cursor())
	}

	if err := e.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if ids(e.Messages()) != "m1" {
		t.Fatalf("poll duplicated the sent message: %s", ids(e.Messages()))
	}
	if len(snapshots) != 1 {
		t.Fatalf("expected one change notification, got %d", len(snapshots))
	}
}

func TestEngine_SendEmptyBody(t *testing.T) {
	api := newFakeAPI()
	e := newTestEngine(t, api, nil, nil)
	if _, err := e.Send(context.Background(), "  \n\t"); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}
	if _, sends, _ := api.counts(); sends != 0 {
		t.Fatalf("blank body must not reach the API")
	}
}

func TestEngine_SendFailureDropsMessage(t *testing.T) {
	api := newFakeAPI()
	api.send = func(ctx context.Context, body string) (*Message, error) {
		return nil, &APIError{StatusCode: http.StatusInternalServerError, Message: "boom"}
	}
	e := newTestEngine(t, api, nil, nil)

	_, err := e.Send(context.Background(), "hi")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if len(e.Messages()) != 0 {
		t.Fatalf("failed send must not appear in the log")
	}
	if e.Halted() {
		t.Fatalf("a 500 must not halt the engine")
	}
}

func TestEngine_RacingPolls(t *testing.T) {
	api := newFakeAPI()
	// The first poll is slow and returns an older batch after the second
	// poll has already merged newer messages.
	release := make(chan struct{})
	started := make(chan struct{})
	calls := 0
	api.fetch = func(ctx context.Context, cursor Cursor) ([]Message, error) {
		api.mu.Lock()
		calls++
		n := calls
		api.mu.Unlock()
		if n == 1 {
			close(started)
			<-release
			return []Message{msg("a", 0, "one"), msg("b", time.Second, "two")}, nil
		}
		return []Message{msg("b", time.Second, "two"), msg("c", 2*time.Second, "three")}, nil
	}
	e := newTestEngine(t, api, nil, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := e.Poll(context.Background()); err != nil {
			t.Errorf("slow Poll: %v", err)
		}
	}()
	<-started

	if err := e.Poll(context.Background()); err != nil {
		t.Fatalf("fast Poll: %v", err)
	}
	close(release)
	wg.Wait()

	if ids(e.Messages()) != "a,b,c" {
		t.Fatalf("expected a,b,c got %s", ids(e.Messages()))
	}
	if !e.Cursor().Time().Equal(epoch.Add(2 * time.Second)) {
		t.Fatalf("late response regressed the cursor to %s", e.Cursor())
	}
}

func TestEngine_UnauthenticatedHalts(t *testing.T) {
	api := newFakeAPI()
	api.fetch = func(ctx context.Context, cursor Cursor) ([]Message, error) {
		return nil, &APIError{StatusCode: http.StatusUnauthorized, Message: "unauthenticated"}
	}
	redirects := 0
	e := newTestEngine(t, api, nil, func() { redirects++ })

	if err := e.Poll(context.Background()); !IsUnauthenticated(err) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if !e.Halted() {
		t.Fatalf("engine should be halted")
	}
	if redirects != 1 {
		t.Fatalf("expected one redirect, got %d", redirects)
	}

	if err := e.Poll(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after halt, got %v", err)
	}
	if _, err := e.Send(context.Background(), "hi"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on send after halt, got %v", err)
	}
	fetches, sends, _ := api.counts()
	if fetches != 1 || sends != 0 {
		t.Fatalf("no calls expected after halt, got %d fetches %d sends", fetches, sends)
	}
	if redirects != 1 {
		t.Fatalf("redirect must fire once, got %d", redirects)
	}
}

func TestEngine_OtherErrorsAreSwallowed(t *testing.T) {
	api := newFakeAPI()
	fail := true
	api.fetch = func(ctx context.Context, cursor Cursor) ([]Message, error) {
		if fail {
			return nil, ErrUnavailable
		}
		return []Message{msg("a", 0, "one")}, nil
	}
	e := newTestEngine(t, api, nil, func() { t.Fatalf("unexpected redirect") })

	if err := e.Poll(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if e.Cursor().IsSet() || len(e.Messages()) != 0 {
		t.Fatalf("failed poll must not change state")
	}

	fail = false
	if err := e.Poll(context.Background()); err != nil {
		t.Fatalf("retry Poll: %v", err)
	}
	if ids(e.Messages()) != "a" {
		t.Fatalf("retry should merge, got %s", ids(e.Messages()))
	}
}

func TestEngine_LateResponseAfterClose(t *testing.T) {
	api := newFakeAPI()
	release := make(chan struct{})
	started := make(chan struct{})
	api.fetch = func(ctx context.Context, cursor Cursor) ([]Message, error) {
		close(started)
		<-release
		// Ignore ctx to model a response that was already on the wire.
		return []Message{msg("a", 0, "late")}, nil
	}
	e, err := NewEngine(EngineConfig{
		API:            api,
		ConversationID: "c1",
		OnChange:       func([]Message) { t.Errorf("no notification expected after close") },
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- e.Poll(context.Background()) }()
	<-started
	e.Close()
	close(release)

	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if len(e.Messages()) != 0 {
		t.Fatalf("late response mutated the log")
	}
	if e.Cursor().IsSet() {
		t.Fatalf("late response advanced the cursor")
	}
	if _, _, reads := api.counts(); reads != 0 {
		t.Fatalf("late response issued a read receipt")
	}
}

func TestEngine_CloseCancelsInflight(t *testing.T) {
	api := newFakeAPI()
	started := make(chan struct{})
	api.fetch = func(ctx context.Context, cursor Cursor) ([]Message, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	e, err := NewEngine(EngineConfig{API: api, ConversationID: "c1"})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- e.Poll(context.Background()) }()
	<-started
	e.Close()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Close did not cancel the in-flight fetch")
	}
	e.Close()
}
