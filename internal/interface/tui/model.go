package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jinford/doc-rag/internal/core/ask"
)

// Asker は TUI から利用する質問応答サービス
type Asker interface {
	Ask(ctx context.Context, question string) (*ask.AskResult, error)
}

// exchange は1回の質問と回答
type exchange struct {
	question string
	result   *ask.AskResult
	err      error
}

// answerMsg は回答の受信を通知する
type answerMsg exchange

// Model は対話モードの Bubble Tea モデル
// 質問は1件ずつ独立に処理し、過去のやり取りは表示のみに使う
type Model struct {
	ctx         context.Context
	asker       Asker
	showSources bool

	input    textinput.Model
	spinner  spinner.Model
	viewport viewport.Model

	history []exchange
	pending string
	ready   bool
}

// New は新しいモデルを作成する
func New(ctx context.Context, asker Asker, showSources bool) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter (Ctrl+C to quit)"
	ti.Focus()
	ti.CharLimit = 0

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = statusStyle

	return Model{
		ctx:         ctx,
		asker:       asker,
		showSources: showSources,
		input:       ti,
		spinner:     sp,
		viewport:    viewport.New(0, 0),
	}
}

// Run は対話モードを開始し、終了するまでブロックする
func Run(ctx context.Context, asker Asker, showSources bool) error {
	p := tea.NewProgram(New(ctx, asker, showSources), tea.WithContext(ctx), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("failed to run chat: %w", err)
	}
	return nil
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptStyle.GetFrameSize()
		_, ih := inputStyle.GetFrameSize()
		reserved := 2 + ih + 1 + th // ヘッダー + 入力欄 + ステータス
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEnter {
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.pending != "" {
				return m, nil
			}
			m.pending = q
			m.input.Reset()
			m.refresh()
			return m, tea.Batch(m.ask(q), m.spinner.Tick)
		}

	case answerMsg:
		m.history = append(m.history, exchange(msg))
		m.pending = ""
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if m.pending == "" {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	status := statusStyle.Render("Ready.")
	if m.pending != "" {
		status = m.spinner.View() + statusStyle.Render(" Thinking...")
	}

	return headerStyle.Render("doc-rag") + "\n" +
		transcriptStyle.Render(m.viewport.View()) + "\n" +
		inputStyle.Render(m.input.View()) + "\n" +
		status
}

// ask は質問を別の goroutine で処理する tea.Cmd を返す
func (m Model) ask(question string) tea.Cmd {
	return func() tea.Msg {
		result, err := m.asker.Ask(m.ctx, question)
		return answerMsg{question: question, result: result, err: err}
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	if len(m.history) == 0 && m.pending == "" {
		return hintStyle.Render("No questions yet.")
	}

	var b strings.Builder
	for _, ex := range m.history {
		b.WriteString(questionStyle.Render("Q: " + ex.question))
		b.WriteString("\n")
		b.WriteString(renderAnswer(ex, m.showSources))
		b.WriteString("\n\n")
	}
	if m.pending != "" {
		b.WriteString(questionStyle.Render("Q: " + m.pending))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderAnswer(ex exchange, showSources bool) string {
	if ex.err != nil {
		return errorStyle.Render("Error: " + ex.err.Error())
	}

	switch ex.result.Outcome {
	case ask.OutcomeAnswered:
	case ask.OutcomeNoContext:
		return hintStyle.Render(ex.result.Answer)
	default:
		return errorStyle.Render(ex.result.Answer)
	}

	var b strings.Builder
	b.WriteString(ex.result.Answer)
	if showSources {
		for i, src := range ex.result.Sources {
			b.WriteString("\n")
			b.WriteString(sourceStyle.Render(fmt.Sprintf("[%d] %s @%d (score %.4f)", i+1, src.SourceID, src.StartOffset, src.Score)))
		}
	}
	return b.String()
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	questionStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	sourceStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	hintStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)
