package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type mode int

const (
	modeInteractive mode = iota
	modeOneShot
)

const imageCommand = "/image"

type chatMessage struct {
	role    string
	content string
}

type promptResultMsg struct {
	reply   string
	err     error
	elapsed time.Duration
}

type bootTickMsg struct{}

type model struct {
	ctx          context.Context
	promptFn     PromptFunc
	mode         mode
	oneShotInput string
	oneShotImage string

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	messages  []chatMessage
	width     int
	height    int
	isReady   bool
	isLoading bool
	lastErr   string
	booting   bool
	bootStep  int
	followLog bool
	runtime   RuntimeInfo
	lastTook  time.Duration
}

func newModel(ctx context.Context, promptFn PromptFunc, runMode mode, prompt string, imagePath string, info RuntimeInfo) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Ask about a shipment, or /image <path> <question>"
	in.Focus()
	in.CharLimit = 0

	vp := viewport.New(80, 12)

	return &model{
		ctx:          ctx,
		promptFn:     promptFn,
		mode:         runMode,
		oneShotInput: strings.TrimSpace(prompt),
		oneShotImage: strings.TrimSpace(imagePath),
		theme:        defaultTheme(),
		spinner:      spin,
		input:        in,
		viewport:     vp,
		width:        100,
		height:       28,
		booting:      runMode == modeInteractive,
		followLog:    true,
		runtime:      info,
	}
}

func (m *model) Init() tea.Cmd {
	if m.mode == modeOneShot {
		m.messages = append(m.messages, chatMessage{role: "user", content: userLabel(m.oneShotInput, m.oneShotImage)})
		m.isLoading = true
		m.refreshViewport(false)
		return tea.Batch(m.spinner.Tick, sendPromptCmd(m.ctx, m.promptFn, m.oneShotInput, m.oneShotImage))
	}

	return bootTickCmd()
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case bootTickMsg:
		if !m.booting {
			return m, nil
		}

		m.bootStep++
		if m.bootStep < len(bootScriptLines())+1 {
			return m, bootTickCmd()
		}

		m.booting = false
		return m, textinput.Blink
	case tea.MouseMsg:
		if m.mode == modeInteractive && !m.booting {
			m.handleViewportMouse(typed)
		}
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

		if m.booting || m.mode == modeOneShot {
			return m, nil
		}

		if handled := m.handleViewportKey(typed); handled {
			return m, nil
		}

		if typed.Type == tea.KeyEnter {
			return m, m.submit()
		}
	}

	if m.mode == modeInteractive {
		m.input, cmd = m.input.Update(msg)
	}

	switch typed := msg.(type) {
	case spinner.TickMsg:
		if !m.isLoading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case promptResultMsg:
		m.isLoading = false
		m.lastTook = typed.elapsed
		if typed.err != nil {
			m.lastErr = typed.err.Error()
			m.messages = append(m.messages, chatMessage{role: "error", content: typed.err.Error()})
		} else {
			m.lastErr = ""
			m.messages = append(m.messages, chatMessage{role: "assistant", content: typed.reply})
		}
		m.refreshViewport(false)
		if m.mode == modeOneShot {
			return m, tea.Quit
		}
	}

	return m, cmd
}

// submit sends the input line. It returns nil when there is nothing to send.
func (m *model) submit() tea.Cmd {
	if m.isLoading {
		return nil
	}

	line := strings.TrimSpace(m.input.Value())
	if line == "" {
		return nil
	}
	if isExitCommand(line) {
		return tea.Quit
	}

	m.input.SetValue("")
	prompt, imagePath, err := parseInput(line)
	if err != nil {
		m.lastErr = err.Error()
		m.messages = append(m.messages, chatMessage{role: "error", content: err.Error()})
		m.refreshViewport(true)
		return nil
	}

	m.lastErr = ""
	m.messages = append(m.messages, chatMessage{role: "user", content: userLabel(prompt, imagePath)})
	m.isLoading = true
	m.followLog = true
	m.refreshViewport(true)
	return tea.Batch(m.spinner.Tick, sendPromptCmd(m.ctx, m.promptFn, prompt, imagePath))
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}
	if m.mode == modeOneShot {
		return m.oneShotView()
	}
	if m.booting {
		return m.bootView()
	}

	header := m.theme.header.Width(m.width - 2).Render("📦 freightdesk console")
	meta := m.theme.meta.Render(fmt.Sprintf(
		"identifier:%s · estimator:%s · knowledge:%s · questions:%d · last:%s",
		displayOrNA(m.runtime.Identifier),
		displayOrNA(m.runtime.Estimator),
		displayOrNA(m.runtime.Knowledge),
		conversationTurns(m.messages),
		formatElapsed(m.lastTook),
	))
	line := m.theme.rule.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	status := m.theme.status.Render("💡 Enter send  ·  PgUp/PgDn scroll  ·  End jump latest  ·  🛑 Ctrl+C/Esc quit")
	if m.isLoading {
		status = m.theme.busy.Render(fmt.Sprintf("%s 🔎 identifying product and comparing carriers...", m.spinner.View()))
	}
	if m.lastErr != "" {
		status = m.theme.alarm.Render("🚨 last request failed - try again")
	}

	parts := []string{
		header,
		meta,
		line,
		m.theme.log.Width(m.width - 2).Render(m.viewport.View()),
		status,
		m.theme.prompt.Render("🧑 You") + " " + m.theme.hint.Render("(type /exit, quit, or :q)"),
		m.theme.input.Width(m.width - 2).Render(m.input.View()),
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *model) resizeComponents() {
	w := max(50, m.width-6)
	h := m.height - 10
	if m.mode == modeOneShot {
		h = m.height - 6
	}
	h = max(8, h)

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	var sections []string
	for _, item := range m.messages {
		switch item.role {
		case "user":
			sections = append(sections, m.theme.question.render("[ 🧑 question ]", m.viewport.Width, strings.TrimSpace(item.content)))
		case "assistant":
			sections = append(sections, m.theme.estimate.render("[ 📦 estimate ]", m.viewport.Width, strings.TrimSpace(item.content)))
		case "error":
			sections = append(sections, m.theme.failure.render("[ ERROR ]", m.viewport.Width, strings.TrimSpace(item.content)))
		}
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) oneShotView() string {
	contentWidth := max(40, m.width-6)
	parts := []string{m.theme.question.render("[ SENT ]", contentWidth, userLabel(m.oneShotInput, m.oneShotImage))}

	if m.isLoading {
		parts = append(parts, m.theme.busy.Render(fmt.Sprintf("%s 🔎 identifying product and comparing carriers...", m.spinner.View())))
		return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n"
	}

	if m.lastErr != "" {
		parts = append(parts,
			m.theme.failure.render("[ ERROR ]", contentWidth, strings.TrimSpace(m.lastErr)),
		)
		return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n\n"
	}

	answer := ""
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].role == "assistant" {
			answer = m.messages[i].content
			break
		}
	}

	parts = append(parts,
		m.theme.estimate.render("[ ANSWER ]", contentWidth, strings.TrimSpace(answer)),
	)

	return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n\n"
}

func (m *model) bootView() string {
	header := m.theme.header.Width(m.width - 2).Render("📦 freightdesk console")
	meta := m.theme.meta.Render("starting")
	line := m.theme.rule.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	script := bootScriptLines()
	count := min(m.bootStep, len(script))
	visible := make([]string, 0, count+1)
	for i := 0; i < count; i++ {
		visible = append(visible, m.theme.bootLine.Render(script[i]))
	}
	if m.bootStep > len(script) {
		visible = append(visible, m.theme.bootDone.Render("✅ ready for questions"))
	}

	body := m.theme.log.Width(m.width - 2).Render(strings.Join(visible, "\n"))
	return lipgloss.JoinVertical(lipgloss.Left, header, meta, line, body)
}

func bootTickCmd() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(_ time.Time) tea.Msg {
		return bootTickMsg{}
	})
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

// handleViewportMouse scrolls on wheel events and reports whether it did.
func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(3)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(3)
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}

func bootScriptLines() []string {
	return []string{
		"[BOOT] loading carrier rate guides",
		"[BOOT] warming product identifier",
		"[BOOT] connecting freight estimator",
		"[BOOT] opening knowledge base",
	}
}

func sendPromptCmd(ctx context.Context, promptFn PromptFunc, prompt string, imagePath string) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()
		reply, err := promptFn(ctx, prompt, imagePath)
		return promptResultMsg{reply: reply, err: err, elapsed: time.Since(start)}
	}
}

// parseInput splits "/image <path> [question]" from a plain question.
func parseInput(line string) (string, string, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, imageCommand) {
		return line, "", nil
	}

	rest := strings.TrimSpace(strings.TrimPrefix(line, imageCommand))
	if rest == "" {
		return "", "", fmt.Errorf("usage: %s <path> [question]", imageCommand)
	}
	imagePath, prompt, _ := strings.Cut(rest, " ")
	return strings.TrimSpace(prompt), imagePath, nil
}

func userLabel(prompt string, imagePath string) string {
	prompt = strings.TrimSpace(prompt)
	if imagePath == "" {
		return prompt
	}
	return strings.TrimSpace("🖼  " + imagePath + "\n" + prompt)
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}

func formatElapsed(d time.Duration) string {
	if d <= 0 {
		return "n/a"
	}
	return d.Round(100 * time.Millisecond).String()
}

func conversationTurns(messages []chatMessage) int {
	count := 0
	for _, message := range messages {
		if message.role == "user" {
			count++
		}
	}

	return count
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
