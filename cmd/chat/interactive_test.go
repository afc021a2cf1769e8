package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/PaulBabatuyi/marketchat/internal/chatsync"
)

func TestCommand(t *testing.T) {
	tests := []struct {
		line, name, arg string
	}{
		{"hello there", "", "hello there"},
		{"  /quit ", "quit", ""},
		{"/OPEN 2", "open", "2"},
		{"/open   conv-1 ", "open", "conv-1"},
		{"/", "", ""},
	}
	for _, tt := range tests {
		name, arg := command(tt.line)
		if name != tt.name || arg != tt.arg {
			t.Fatalf("command(%q) = %q, %q; want %q, %q", tt.line, name, arg, tt.name, tt.arg)
		}
	}
}

func TestPickConversation(t *testing.T) {
	list := []chatsync.Conversation{{ID: "a"}, {ID: "b"}}

	t.Run("by position", func(t *testing.T) {
		id, err := pickConversation(list, "2")
		if err != nil || id != "b" {
			t.Fatalf("got %q, %v", id, err)
		}
	})
	t.Run("by id", func(t *testing.T) {
		id, err := pickConversation(list, "a")
		if err != nil || id != "a" {
			t.Fatalf("got %q, %v", id, err)
		}
	})
	t.Run("out of range", func(t *testing.T) {
		for _, arg := range []string{"0", "3", "zzz", ""} {
			if _, err := pickConversation(list, arg); err == nil {
				t.Fatalf("expected an error for %q", arg)
			}
		}
	})
}

func TestInteract(t *testing.T) {
	var seen []string
	in := strings.NewReader("one\ntwo\n/quit\nthree\n")
	interact(context.Background(), in, func(ctx context.Context, line string) bool {
		seen = append(seen, line)
		name, _ := command(line)
		return name != "quit"
	})
	if strings.Join(seen, ",") != "one,two,/quit" {
		t.Fatalf("unexpected lines %v", seen)
	}
}

func TestInteract_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		// A reader that never yields a line.
		interact(ctx, blockingReader{}, func(context.Context, string) bool { return true })
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("interact did not return after cancel")
	}
}

type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) { select {} }

func TestScreenRedraw(t *testing.T) {
	var out bytes.Buffer
	scr := &screen{out: &out, draw: func() string { return "view" }, help: "help"}
	scr.setStatus("oops")

	got := out.String()
	if !strings.HasPrefix(got, clearScreen) {
		t.Fatalf("redraw should clear the screen first: %q", got)
	}
	if !strings.Contains(got, "view\n\noops\nhelp\n") {
		t.Fatalf("unexpected screen %q", got)
	}
}
