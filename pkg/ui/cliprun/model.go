package cliprun

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"clipbot/pkg/clip"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type extractResultMsg struct {
	result clip.Result
	err    error
}

type model struct {
	ctx     context.Context
	job     Job
	extract ExtractFunc

	theme     theme
	spinner   spinner.Model
	viewport  viewport.Model
	width     int
	height    int
	isReady   bool
	isLoading bool
	followLog bool

	result clip.Result
	err    error
}

func newModel(ctx context.Context, job Job, extract ExtractFunc) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	return &model{
		ctx:       ctx,
		job:       job,
		extract:   extract,
		theme:     defaultTheme(),
		spinner:   spin,
		viewport:  viewport.New(80, 12),
		width:     100,
		height:    28,
		isLoading: true,
		followLog: true,
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, extractCmd(m.ctx, m.extract))
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport()
		m.isReady = true
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc", "q":
			return m, tea.Quit
		case "enter":
			if !m.isLoading {
				return m, tea.Quit
			}
		}
		m.handleViewportKey(typed)
		return m, nil
	case spinner.TickMsg:
		if !m.isLoading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case extractResultMsg:
		m.isLoading = false
		m.result = typed.result
		m.err = typed.err
		m.refreshViewport()
		return m, nil
	}

	return m, nil
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport()
	}

	header := m.theme.header.Width(m.width - 2).Render("🎬 clipbot clip")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"source:%s · clips:%d · duration:%ds",
		filepath.Base(m.job.SourcePath),
		m.job.Count,
		m.job.Duration,
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	status := m.theme.status.Render(fmt.Sprintf("✅ %s  ·  PgUp/PgDn scroll  ·  Enter/q quit", summary(m.result)))
	switch {
	case m.isLoading:
		status = m.theme.statusBusy.Render(fmt.Sprintf("%s ⚡ cutting clips...", m.spinner.View()))
	case m.err != nil:
		status = m.theme.statusErr.Render("🚨 extraction failed  ·  Enter/q quit")
	}

	body := m.theme.viewport.Width(m.width - 2).Render(m.viewport.View())
	return lipgloss.JoinVertical(lipgloss.Left, header, meta, line, body, status)
}

func (m *model) resizeComponents() {
	m.viewport.Width = max(50, m.width-6)
	m.viewport.Height = max(8, m.height-8)
}

func (m *model) refreshViewport() {
	var sections []string

	if m.err != nil {
		sections = append(sections, m.renderCard(
			m.theme.errorTitle.Render("▛▚ [ERROR] ▞▜"),
			m.theme.errorBox.Width(m.viewport.Width).Render(m.err.Error()),
		))
	}

	for i, path := range m.result.Paths {
		sections = append(sections, m.renderCard(
			m.theme.clipTitle.Render(fmt.Sprintf("▛▚ [CLIP %d] ▞▜", i+1)),
			m.theme.clipBox.Width(m.viewport.Width).Render(path),
		))
	}

	for _, failure := range m.result.Failures {
		sections = append(sections, m.renderCard(
			m.theme.errorTitle.Render(fmt.Sprintf("▛▚ [CLIP %d FAILED] ▞▜", failure.Index+1)),
			m.theme.errorBox.Width(m.viewport.Width).Render(failure.Err.Error()),
		))
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog {
		m.viewport.GotoBottom()
	}
}

func (m *model) renderCard(title string, body string) string {
	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "down":
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

func extractCmd(ctx context.Context, extract ExtractFunc) tea.Cmd {
	return func() tea.Msg {
		result, err := extract(ctx)
		return extractResultMsg{result: result, err: err}
	}
}

func summary(result clip.Result) string {
	return fmt.Sprintf("%d of %d clips created", result.SuccessCount, result.Requested)
}
