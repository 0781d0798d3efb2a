package progress

import (
	"context"
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ndisidore/inpdeck/pkg/parser"
)

// TUI renders progress using a bubbletea interactive terminal display.
type TUI struct {
	Boring bool // use ASCII icons instead of emoji

	opts []tea.ProgramOption

	mu      sync.Mutex
	prog    *tea.Program
	started bool
	sealed  bool
	attach  sync.WaitGroup
	done    chan struct{}
	err     error
}

// Start launches the bubbletea program. Calling it twice is a no-op.
func (t *TUI) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return nil
	}
	opts := append([]tea.ProgramOption{tea.WithContext(ctx)}, t.opts...)
	t.prog = tea.NewProgram(newMultiModel(t.Boring), opts...)
	t.done = make(chan struct{})
	t.started = true

	go func() {
		defer close(t.done)
		if _, err := t.prog.Run(); err != nil {
			t.err = fmt.Errorf("running TUI: %w", err)
		}
	}()
	return nil
}

// Attach forwards the events of one deck into the program.
func (t *TUI) Attach(ctx context.Context, deck string, ch <-chan parser.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return ErrNotStarted
	}
	p := t.prog
	t.attach.Go(func() {
		p.Send(deckAddedMsg{name: deck})
		// Selects on ctx.Done() so the goroutine ends if ch is never closed.
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				p.Send(deckEventMsg{name: deck, ev: ev})
			case <-ctx.Done():
				return
			}
		}
	})
	return nil
}

// Seal quits the program once every attached deck has closed its channel.
func (t *TUI) Seal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started || t.sealed {
		return
	}
	t.sealed = true
	p := t.prog
	go func() {
		t.attach.Wait()
		p.Send(allDoneMsg{})
	}()
}

// Wait blocks until the program exits.
func (t *TUI) Wait() error {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return ErrNotStarted
	}
	done := t.done
	t.mu.Unlock()

	<-done
	return t.err
}
