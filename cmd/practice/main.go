package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	scoreplay "github.com/cbegin/scoreplay-go"
	"github.com/cbegin/scoreplay-go/internal/audio"
	"github.com/cbegin/scoreplay-go/internal/midiengine"
	"github.com/cbegin/scoreplay-go/score"
)

const seekStepTicks = 960 // one beat

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#666"))
	playStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5f5"))
	pauseStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#f55"))
	markerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5af"))
)

type model struct {
	tr       *scoreplay.Transport
	sc       *score.Score
	snap     scoreplay.Snapshot
	playErr  error
	quitting bool
}

type snapMsg scoreplay.Snapshot
type frameMsg time.Time
type playErrMsg struct{ err error }

func listenForUpdates(tr *scoreplay.Transport) tea.Cmd {
	return func() tea.Msg {
		return snapMsg(<-tr.Updates())
	}
}

// frameTick re-renders between throttled snapshots so the fast position
// store is visible at display rate.
func frameTick() tea.Cmd {
	return tea.Tick(50*time.Millisecond, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

func play(tr *scoreplay.Transport) tea.Cmd {
	return func() tea.Msg {
		if err := tr.Play(context.Background()); err != nil {
			return playErrMsg{err}
		}
		return nil
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(listenForUpdates(m.tr), frameTick())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.tr.Stop()
			return m, tea.Quit

		case " ":
			if m.snap.Status == scoreplay.StatusPlaying {
				m.tr.Pause()
				m.snap = m.tr.Snapshot()
				return m, nil
			}
			m.playErr = nil
			return m, play(m.tr)

		case "s":
			m.tr.Stop()
			m.snap = m.tr.Snapshot()

		case "left":
			m.tr.SeekToTick(m.tr.CurrentTick() - seekStepTicks)
			m.snap = m.tr.Snapshot()

		case "right":
			m.tr.SeekToTick(m.tr.CurrentTick() + seekStepTicks)
			m.snap = m.tr.Snapshot()

		case "p":
			m.tr.SetPinnedStart(m.tr.CurrentTick())

		case "u":
			m.tr.UnpinStartTick()
			m.snap = m.tr.Snapshot()

		case "l":
			m.tr.SetLoopEnd(m.tr.CurrentTick())

		case "L":
			m.tr.ClearLoopEnd()

		case "+", "=":
			m.tr.SetTempoMultiplier(m.tr.TempoMultiplier() + 0.1)

		case "-", "_":
			m.tr.SetTempoMultiplier(m.tr.TempoMultiplier() - 0.1)

		case "r":
			m.tr.ResetPlayback()
			m.snap = m.tr.Snapshot()
		}

	case snapMsg:
		m.snap = scoreplay.Snapshot(msg)
		return m, listenForUpdates(m.tr)

	case frameMsg:
		return m, frameTick()

	case playErrMsg:
		m.playErr = msg.err
		m.snap = m.tr.Snapshot()
	}

	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder

	b.WriteString(titleStyle.Render(m.sc.Title))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %.0f BPM x%.1f\n\n", m.sc.TempoBPM, m.tr.TempoMultiplier())))

	status := m.snap.Status.String()
	switch m.snap.Status {
	case scoreplay.StatusPlaying:
		status = playStyle.Render(status)
	case scoreplay.StatusPaused:
		status = pauseStyle.Render(status)
	default:
		status = dimStyle.Render(status)
	}
	tick := m.tr.CurrentTick()
	b.WriteString(fmt.Sprintf("%s  beat %.1f  tick %d/%d\n", status, float64(tick)/960.0, tick, m.snap.TotalDurationTicks))
	b.WriteString(m.positionBar(tick))
	b.WriteString("\n")

	if pin, ok := m.tr.PinnedStart(); ok {
		b.WriteString(markerStyle.Render(fmt.Sprintf("pin %d  ", pin)))
	}
	if end, ok := m.tr.LoopEnd(); ok {
		b.WriteString(markerStyle.Render(fmt.Sprintf("loop end %d", end)))
	}
	b.WriteString("\n")

	if m.playErr != nil {
		b.WriteString(errStyle.Render(m.playErr.Error()))
		b.WriteString("\n")
	} else if m.snap.Err != nil {
		b.WriteString(errStyle.Render(m.snap.Err.Error()))
		b.WriteString("\n")
	}

	b.WriteString(dimStyle.Render("\nspace play/pause  s stop  ←/→ seek  p pin  u unpin  l loop  L clear  +/- speed  r reset  q quit\n"))
	return b.String()
}

func (m model) positionBar(tick int64) string {
	const width = 48
	total := m.snap.TotalDurationTicks
	if total <= 0 {
		return dimStyle.Render(strings.Repeat("-", width))
	}
	pos := int(tick * width / total)
	if pos >= width {
		pos = width - 1
	}
	if pos < 0 {
		pos = 0
	}
	return playStyle.Render(strings.Repeat("=", pos)+">") + dimStyle.Render(strings.Repeat("-", width-pos-1))
}

func main() {
	var (
		scorePath  = flag.String("score", "", "path to a score JSON file (default: built-in C major scale)")
		engineName = flag.String("engine", "synth", "playback engine: synth|midi")
		midiPort   = flag.String("midi-port", "", "MIDI output port name substring")
		sampleRate = flag.Int("sample-rate", 48000, "synth engine sample rate")
	)
	flag.Parse()

	sc := score.CMajorScale()
	if strings.TrimSpace(*scorePath) != "" {
		loaded, err := score.Load(*scorePath)
		if err != nil {
			log.Fatal(err)
		}
		sc = loaded
	}

	var engine scoreplay.Engine
	switch strings.ToLower(*engineName) {
	case "synth":
		engine = audio.New(*sampleRate)
	case "midi":
		engine = midiengine.New(*midiPort)
	default:
		log.Fatalf("invalid -engine %q (expected synth|midi)", *engineName)
	}

	tr, err := scoreplay.NewTransport(engine, sc)
	if err != nil {
		log.Fatal(err)
	}

	if _, err := tea.NewProgram(model{tr: tr, sc: sc}).Run(); err != nil {
		log.Fatal(err)
	}
}
