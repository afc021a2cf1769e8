package shell

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/PaulBabatuyi/marketchat/internal/chatsync"
	"github.com/PaulBabatuyi/marketchat/internal/logging"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	buyerID  = "buyer-1"
	vendorID = "vendor-1"
)

func message(id, conversationID, senderID string, offset time.Duration, body string) chatsync.Message {
	return chatsync.Message{ID: id, ConversationID: conversationID, SenderID: senderID, Body: body, CreatedAt: epoch.Add(offset)}
}

func conversation(id string) chatsync.Conversation {
	return chatsync.Conversation{
		ID:        id,
		ProductID: "prod-" + id,
		Participants: []chatsync.Participant{
			{UserID: buyerID, Role: chatsync.RoleCustomer},
			{UserID: vendorID, Role: chatsync.RoleVendor},
		},
	}
}

func unauthorized() error { return &chatsync.APIError{StatusCode: http.StatusUnauthorized, Message: "unauthenticated"} }
func unavailable() error  { return &chatsync.APIError{StatusCode: http.StatusBadGateway, Message: "bad gateway"} }

// fakeAPI serves one viewer, a conversation list and per-conversation
// message logs. FetchSince honours the cursor like the real server.
type fakeAPI struct {
	mu sync.Mutex

	viewer   chatsync.Viewer
	whoErr   error
	open     *chatsync.Conversation
	openErr  error
	list     []chatsync.Conversation
	listErr  error
	logs     map[string][]chatsync.Message
	fetchErr error
	sendErr  error
	// block makes FetchSince wait for cancellation and report on started.
	block   bool
	started chan string

	opens   int
	lists   int
	fetches []string
	sends   []string
	reads   int
}

func newFakeAPI(viewer chatsync.Viewer) *fakeAPI {
	return &fakeAPI{viewer: viewer, logs: map[string][]chatsync.Message{}, started: make(chan string, 16)}
}

func (f *fakeAPI) WhoAmI(ctx context.Context) (*chatsync.Viewer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.whoErr != nil {
		return nil, f.whoErr
	}
	v := f.viewer
	return &v, nil
}

func (f *fakeAPI) OpenConversation(ctx context.Context, anchor chatsync.Anchor) (*chatsync.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.openErr != nil {
		return nil, f.openErr
	}
	c := *f.open
	return &c, nil
}

func (f *fakeAPI) ListConversations(ctx context.Context) ([]chatsync.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]chatsync.Conversation(nil), f.list...), nil
}

func (f *fakeAPI) FetchSince(ctx context.Context, conversationID string, cursor chatsync.Cursor) ([]chatsync.Message, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, conversationID)
	block, err := f.block, f.fetchErr
	var out []chatsync.Message
	for _, m := range f.logs[conversationID] {
		if !cursor.IsSet() || m.CreatedAt.After(cursor.Time()) {
			out = append(out, m)
		}
	}
	f.mu.Unlock()

	if block {
		f.started <- conversationID
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, conversationID, body string) (*chatsync.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, body)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	// Sent messages land after everything seeded by the tests.
	n := len(f.logs[conversationID])
	m := message("sent-"+body, conversationID, f.viewer.ID, 48*time.Hour+time.Duration(n)*time.Second, body)
	f.logs[conversationID] = append(f.logs[conversationID], m)
	return &m, nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return nil
}

func (f *fakeAPI) add(m chatsync.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[m.ConversationID] = append(f.logs[m.ConversationID], m)
}

func (f *fakeAPI) counts() (fetches, sends, reads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetches), len(f.sends), f.reads
}

func (f *fakeAPI) listCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

func (f *fakeAPI) fetchedFor(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.fetches {
		if c == id {
			n++
		}
	}
	return n
}

type countingNavigator struct{ n atomic.Int32 }

func (c *countingNavigator) RedirectToLogin() { c.n.Add(1) }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func testConfig(api API, nav Navigator, interval time.Duration) Config {
	if interval == 0 {
		interval = time.Hour
	}
	return Config{API: api, Navigator: nav, Logger: logging.Discard(), Interval: interval, Width: 50}
}

// lineWith returns the first rendered line containing s.
func lineWith(t *testing.T, rendered, s string) string {
	t.Helper()
	for _, line := range strings.Split(ansi.Strip(rendered), "\n") {
		if strings.Contains(line, s) {
			return line
		}
	}
	t.Fatalf("no line contains %q in:\n%s", s, rendered)
	return ""
}
