package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/PaulBabatuyi/marketchat/internal/chatsync"
)

const clearScreen = "\x1b[H\x1b[2J"

var errSessionExpired = errors.New("session expired, please log in again")

// screen redraws a shell's view on every change.
type screen struct {
	mu     sync.Mutex
	out    io.Writer
	draw   func() string
	help   string
	status string
}

func (s *screen) redraw() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	b.WriteString(clearScreen)
	b.WriteString(s.draw())
	b.WriteString("\n\n")
	if s.status != "" {
		b.WriteString(s.status)
		b.WriteString("\n")
	}
	b.WriteString(s.help)
	b.WriteString("\n")
	fmt.Fprint(s.out, b.String())
}

func (s *screen) setStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	s.redraw()
}

// readLines delivers input lines until ctx ends or the input is closed.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// interact feeds lines to handle until it returns false, the input ends or
// ctx is cancelled.
func interact(ctx context.Context, in io.Reader, handle func(ctx context.Context, line string) bool) {
	lines := readLines(ctx, in)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok || !handle(ctx, line) {
				return
			}
		}
	}
}

// command splits "/name arg" input. Lines without a leading slash are
// message text and return an empty name.
func command(line string) (name, arg string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", line
	}
	name, arg, _ = strings.Cut(line[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg)
}

// pickConversation resolves a 1-based list position or a conversation id.
func pickConversation(list []chatsync.Conversation, arg string) (string, error) {
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(list) {
			return "", fmt.Errorf("no conversation #%d", n)
		}
		return list[n-1].ID, nil
	}
	for _, c := range list {
		if c.ID == arg {
			return c.ID, nil
		}
	}
	return "", fmt.Errorf("no conversation %q", arg)
}
