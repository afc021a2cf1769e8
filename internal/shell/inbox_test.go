package shell

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/PaulBabatuyi/marketchat/internal/chatsync"
)

func at(offset time.Duration) *time.Time {
	t := epoch.Add(offset)
	return &t
}

func vendorAPI() *fakeAPI {
	api := newFakeAPI(chatsync.Viewer{ID: vendorID, Email: "vendor@example.com", Role: chatsync.RoleVendor})

	older := conversation("older")
	older.LastMessageAt = at(time.Minute)
	last := message("o1", "older", buyerID, time.Minute, "Do you ship abroad?")
	older.LastMessage = &last

	newer := conversation("newer")
	newer.LastMessageAt = at(time.Hour)
	latest := message("n1", "newer", buyerID, time.Hour, "Is the mug dishwasher safe?")
	newer.LastMessage = &latest

	quiet := conversation("quiet")

	api.list = []chatsync.Conversation{quiet, older, newer}
	api.add(last)
	api.add(latest)
	return api
}

func TestSortByActivity(t *testing.T) {
	list := []chatsync.Conversation{
		{ID: "b"},
		{ID: "c", LastMessageAt: at(time.Minute)},
		{ID: "a"},
		{ID: "e", LastMessageAt: at(time.Hour)},
		{ID: "d", LastMessageAt: at(time.Minute)},
	}
	SortByActivity(list)

	var got []string
	for _, c := range list {
		got = append(got, c.ID)
	}
	if strings.Join(got, ",") != "e,c,d,a,b" {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestInbox_MountListsByActivity(t *testing.T) {
	api := vendorAPI()
	in := NewInbox(testConfig(api, &countingNavigator{}, 0))
	defer in.Unmount()

	if err := in.Mount(context.Background()); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	var ids []string
	for _, c := range in.Conversations() {
		ids = append(ids, c.ID)
	}
	if strings.Join(ids, ",") != "newer,older,quiet" {
		t.Fatalf("expected newest activity first, got %v", ids)
	}

	out := ansi.Strip(in.RenderList())
	newerAt := strings.Index(out, "dishwasher")
	olderAt := strings.Index(out, "ship abroad")
	if newerAt < 0 || olderAt < 0 || newerAt > olderAt {
		t.Fatalf("list should show previews newest first:\n%s", out)
	}
	if !strings.Contains(out, "Customer") || !strings.Contains(out, EmptyLogText) {
		t.Fatalf("list should label customers and mark empty conversations:\n%s", out)
	}
	if fetches, _, _ := api.counts(); fetches != 0 {
		t.Fatalf("nothing is polled before a selection, got %d fetches", fetches)
	}
	if out := ansi.Strip(in.RenderDetail()); !strings.Contains(out, "Select a conversation.") {
		t.Fatalf("detail view without selection:\n%s", out)
	}
}

func TestInbox_SelectSwitchesPolling(t *testing.T) {
	api := vendorAPI()
	in := NewInbox(testConfig(api, &countingNavigator{}, 0))
	defer in.Unmount()
	if err := in.Mount(context.Background()); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	if err := in.Select(context.Background(), "older"); err != nil {
		t.Fatalf("Select older: %v", err)
	}
	waitFor(t, "older log", func() bool { return len(in.Messages()) == 1 })
	if in.Selected() != "older" || in.scheduler.Target() != "older" {
		t.Fatalf("expected older selected, got %q polling %q", in.Selected(), in.scheduler.Target())
	}
	if err := in.Select(context.Background(), "older"); err != nil || api.fetchedFor("older") != 1 {
		t.Fatalf("reselecting must be a no-op: err=%v fetches=%d", err, api.fetchedFor("older"))
	}

	oldDone := in.scheduler.Done()
	if err := in.Select(context.Background(), "newer"); err != nil {
		t.Fatalf("Select newer: %v", err)
	}
	select {
	case <-oldDone:
	case <-time.After(time.Second):
		t.Fatalf("previous poll loop still running after switching")
	}
	waitFor(t, "newer log", func() bool {
		msgs := in.Messages()
		return len(msgs) == 1 && msgs[0].ID == "n1"
	})
	if in.scheduler.Target() != "newer" {
		t.Fatalf("scheduler should target newer, got %q", in.scheduler.Target())
	}

	out := ansi.Strip(in.RenderDetail())
	if !strings.Contains(out, "Conversation with Customer") || !strings.Contains(out, "dishwasher") {
		t.Fatalf("unexpected detail view:\n%s", out)
	}
	if list := in.RenderList(); !strings.Contains(lineWith(t, list, "> "), "prod-newer") {
		t.Fatalf("selected row should be marked:\n%s", list)
	}

	in.Input("Yes, it is.")
	if err := in.Send(context.Background()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msgs := in.Messages(); len(msgs) != 2 || msgs[1].Body != "Yes, it is." {
		t.Fatalf("reply should be in the newer log, got %+v", msgs)
	}
	if line := lineWith(t, in.RenderDetail(), "Yes, it is."); !strings.HasPrefix(line, " ") {
		t.Fatalf("own reply should be right-aligned: %q", line)
	}

	if err := in.Select(context.Background(), "missing"); !errors.Is(err, ErrUnknownConversation) {
		t.Fatalf("expected ErrUnknownConversation, got %v", err)
	}
	if in.Selected() != "newer" {
		t.Fatalf("a failed select must keep the current view")
	}
}

func TestInbox_SelectDiscardsLateResponse(t *testing.T) {
	api := vendorAPI()
	api.block = true
	in := NewInbox(testConfig(api, &countingNavigator{}, 0))
	defer in.Unmount()
	if err := in.Mount(context.Background()); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	if err := in.Select(context.Background(), "older"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if id := <-api.started; id != "older" {
		t.Fatalf("expected fetch for older, got %s", id)
	}
	if err := in.Select(context.Background(), "quiet"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if id := <-api.started; id != "quiet" {
		t.Fatalf("expected fetch for quiet, got %s", id)
	}
	if msgs := in.Messages(); len(msgs) != 0 {
		t.Fatalf("the cancelled fetch must not leak into the new view: %+v", msgs)
	}
	if _, _, reads := api.counts(); reads != 0 {
		t.Fatalf("no read receipts expected, got %d", reads)
	}
}

func TestInbox_Failures(t *testing.T) {
	t.Run("list unavailable", func(t *testing.T) {
		api := vendorAPI()
		api.listErr = unavailable()
		nav := &countingNavigator{}
		in := NewInbox(testConfig(api, nav, 0))
		defer in.Unmount()

		if err := in.Mount(context.Background()); !errors.Is(err, chatsync.ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}
		if out := ansi.Strip(in.RenderList()); !strings.Contains(out, ListFailedText) {
			t.Fatalf("list failure should render inline:\n%s", out)
		}
		if nav.n.Load() != 0 {
			t.Fatalf("unexpected redirect")
		}

		api.mu.Lock()
		api.listErr = nil
		api.mu.Unlock()
		if err := in.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh: %v", err)
		}
		if out := ansi.Strip(in.RenderList()); strings.Contains(out, ListFailedText) {
			t.Fatalf("a successful refresh clears the error:\n%s", out)
		}
	})

	t.Run("list unauthenticated", func(t *testing.T) {
		api := vendorAPI()
		api.listErr = unauthorized()
		nav := &countingNavigator{}
		in := NewInbox(testConfig(api, nav, 0))
		defer in.Unmount()

		if err := in.Mount(context.Background()); !errors.Is(err, chatsync.ErrUnauthenticated) {
			t.Fatalf("expected ErrUnauthenticated, got %v", err)
		}
		if nav.n.Load() != 1 {
			t.Fatalf("expected a redirect, got %d", nav.n.Load())
		}
	})

	t.Run("poll unauthenticated", func(t *testing.T) {
		api := vendorAPI()
		nav := &countingNavigator{}
		in := NewInbox(testConfig(api, nav, time.Millisecond))
		defer in.Unmount()
		if err := in.Mount(context.Background()); err != nil {
			t.Fatalf("Mount: %v", err)
		}

		api.mu.Lock()
		api.fetchErr = unauthorized()
		api.mu.Unlock()
		if err := in.Select(context.Background(), "newer"); err != nil {
			t.Fatalf("Select: %v", err)
		}
		waitFor(t, "redirect", func() bool { return nav.n.Load() == 1 })
		waitFor(t, "scheduler to stop", func() bool { return in.scheduler.State() == chatsync.Idle })
		before, _, _ := api.counts()
		time.Sleep(20 * time.Millisecond)
		if after, _, _ := api.counts(); after != before {
			t.Fatalf("polling continued after 401: %d -> %d", before, after)
		}
	})

	t.Run("no requests after redirect", func(t *testing.T) {
		api := vendorAPI()
		nav := &countingNavigator{}
		in := NewInbox(testConfig(api, nav, time.Millisecond))
		defer in.Unmount()
		if err := in.Mount(context.Background()); err != nil {
			t.Fatalf("Mount: %v", err)
		}

		api.mu.Lock()
		api.fetchErr = unauthorized()
		api.mu.Unlock()
		if err := in.Select(context.Background(), "newer"); err != nil {
			t.Fatalf("Select: %v", err)
		}
		waitFor(t, "redirect", func() bool { return nav.n.Load() == 1 })
		fetches, sends, _ := api.counts()
		lists := api.listCalls()

		if err := in.Select(context.Background(), "older"); !errors.Is(err, chatsync.ErrUnauthenticated) {
			t.Fatalf("Select after redirect: expected ErrUnauthenticated, got %v", err)
		}
		if err := in.Refresh(context.Background()); !errors.Is(err, chatsync.ErrUnauthenticated) {
			t.Fatalf("Refresh after redirect: expected ErrUnauthenticated, got %v", err)
		}
		if err := in.Mount(context.Background()); !errors.Is(err, chatsync.ErrUnauthenticated) {
			t.Fatalf("Mount after redirect: expected ErrUnauthenticated, got %v", err)
		}
		in.Input("hello?")
		if err := in.Send(context.Background()); !errors.Is(err, chatsync.ErrUnauthenticated) {
			t.Fatalf("Send after redirect: expected ErrUnauthenticated, got %v", err)
		}

		time.Sleep(20 * time.Millisecond)
		afterFetches, afterSends, _ := api.counts()
		if afterFetches != fetches || afterSends != sends || api.listCalls() != lists {
			t.Fatalf("requests after redirect: fetches %d -> %d, sends %d -> %d, lists %d -> %d",
				fetches, afterFetches, sends, afterSends, lists, api.listCalls())
		}
		if api.fetchedFor("older") != 0 {
			t.Fatalf("older must never be fetched")
		}
		if nav.n.Load() != 1 {
			t.Fatalf("redirect must happen once, got %d", nav.n.Load())
		}
	})

	t.Run("after unmount", func(t *testing.T) {
		in := NewInbox(testConfig(vendorAPI(), &countingNavigator{}, 0))
		if err := in.Mount(context.Background()); err != nil {
			t.Fatalf("Mount: %v", err)
		}
		in.Unmount()
		if err := in.Select(context.Background(), "newer"); !errors.Is(err, ErrNotMounted) {
			t.Fatalf("expected ErrNotMounted, got %v", err)
		}
		if err := in.Send(context.Background()); !errors.Is(err, ErrNotMounted) {
			t.Fatalf("expected ErrNotMounted, got %v", err)
		}
	})
}
