package progress

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/opencontainers/go-digest"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ndisidore/inpdeck/pkg/parser"
)

// fileStatus represents the current state of one deck file.
type fileStatus int

const (
	statusPending fileStatus = iota
	statusReading
	statusDone
	statusError
)

var _emojiIcons = map[fileStatus]string{
	statusDone:    "✅",
	statusReading: "\U0001f4d6",
	statusPending: "⏳",
	statusError:   "❌",
}

var _boringIcons = map[fileStatus]string{
	statusDone:    "[done]  ",
	statusReading: "[read]  ",
	statusPending: "[      ]",
	statusError:   "[FAIL]  ",
}

var (
	_emojiSpinnerFrames  = []string{"◐", "◓", "◑", "◒"}
	_boringSpinnerFrames = []string{"-", "\\", "|", "/"}
)

const _tickInterval = 120 * time.Millisecond

// _maxProblems caps the failure lines kept per deck.
const _maxProblems = 10

// fileState tracks a single file's render state.
type fileState struct {
	name     string
	depth    int
	status   fileStatus
	started  time.Time
	duration time.Duration
	blocks   int
	lines    int
	digest   digest.Digest
}

// deckState tracks the files of one deck in discovery order.
type deckState struct {
	files    map[string]*fileState
	order    []string
	problems []string
}

func newDeckState() *deckState {
	return &deckState{files: make(map[string]*fileState)}
}

func (ds *deckState) applyEvent(ev parser.Event, now time.Time) {
	st, ok := ds.files[ev.File]
	if !ok {
		st = &fileState{name: ev.File, depth: ev.Depth, status: statusPending}
		ds.files[ev.File] = st
		ds.order = append(ds.order, ev.File)
	}
	if st.status == statusDone || st.status == statusError {
		return
	}

	switch ev.Kind {
	case parser.EventStarted:
		st.status = statusReading
		st.started = now
	case parser.EventDone:
		st.status = statusDone
		st.blocks, st.lines, st.digest = ev.Blocks, ev.Lines, ev.Digest
		if !st.started.IsZero() {
			st.duration = now.Sub(st.started).Round(time.Millisecond)
		}
	case parser.EventFailed:
		st.status = statusError
		if ev.Err != nil {
			ds.addProblem(fmt.Sprintf("%s: %v", ev.File, ev.Err))
		}
	default:
	}
}

func (ds *deckState) addProblem(msg string) {
	ds.problems = append(ds.problems, strings.TrimSpace(msg))
	if len(ds.problems) > _maxProblems {
		ds.problems = ds.problems[len(ds.problems)-_maxProblems:]
	}
}

// resolved counts files that finished, either way.
func (ds *deckState) resolved() int {
	n := 0
	for _, st := range ds.files {
		if st.status == statusDone || st.status == statusError {
			n++
		}
	}
	return n
}

// multiModel is the bubbletea model rendering every attached deck.
// All methods use pointer receivers so the decks map is shared.
type multiModel struct {
	decks  map[string]*deckState
	order  []string
	width  int
	frame  int
	boring bool
	done   bool
}

func newMultiModel(boring bool) *multiModel {
	return &multiModel{boring: boring, decks: make(map[string]*deckState)}
}

// deckAddedMsg registers a deck before its events arrive.
type deckAddedMsg struct{ name string }

// deckEventMsg carries one parse event into the bubbletea event loop.
type deckEventMsg struct {
	name string
	ev   parser.Event
}

// allDoneMsg signals that every attached channel has closed.
type allDoneMsg struct{}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(_tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init implements tea.Model.
func (*multiModel) Init() tea.Cmd {
	return tick()
}

// Update implements tea.Model.
func (m *multiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case deckAddedMsg:
		m.deck(msg.name)
	case deckEventMsg:
		m.deck(msg.name).applyEvent(msg.ev, time.Now())
	case tickMsg:
		m.frame++
		return m, tick()
	case allDoneMsg:
		m.done = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *multiModel) deck(name string) *deckState {
	ds, ok := m.decks[name]
	if !ok {
		ds = newDeckState()
		m.decks[name] = ds
		m.order = append(m.order, name)
	}
	return ds
}

var (
	_headerStyle  = lipgloss.NewStyle().Bold(true)
	_problemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	_dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// View implements tea.Model.
func (m *multiModel) View() string {
	var b strings.Builder

	icons, frames := _emojiIcons, _emojiSpinnerFrames
	if m.boring {
		icons, frames = _boringIcons, _boringSpinnerFrames
	}

	for _, name := range m.order {
		ds := m.decks[name]
		_, _ = b.WriteString(_headerStyle.Render(fmt.Sprintf("Deck: %s (%d/%d)", name, ds.resolved(), len(ds.files))))
		_ = b.WriteByte('\n')

		for _, f := range ds.order {
			st := ds.files[f]
			detail := "--"
			switch st.status {
			case statusReading:
				detail = frames[m.frame%len(frames)]
			case statusDone:
				detail = fmt.Sprintf("%d blocks %s", st.blocks, st.duration)
				if st.digest != "" {
					detail += " " + _dimStyle.Render(shortDigest(st.digest))
				}
			default:
			}
			_, _ = fmt.Fprintf(&b, "  %s %s%s  %s\n", icons[st.status], strings.Repeat("  ", st.depth), st.name, detail)
		}

		for _, p := range ds.problems {
			_, _ = b.WriteString(_problemStyle.Render("    ! " + p))
			_ = b.WriteByte('\n')
		}
	}
	return b.String()
}

func shortDigest(d digest.Digest) string {
	enc := d.Encoded()
	if len(enc) > 12 {
		enc = enc[:12]
	}
	return enc
}
