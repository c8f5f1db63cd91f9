package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/lockpick/tracker/internal/proxy"
	"github.com/lockpick/tracker/pkg/protocol"
	"github.com/lockpick/tracker/pkg/state"
)

type panel int

const (
	panelLocations panel = iota
	panelItems
)

// TrackerUI is the BubbleTea model for the tracker panel.
// https://github.com/charmbracelet/bubbletea
type TrackerUI struct {
	proxy *proxy.Proxy

	locViewport  viewport.Model
	metaViewport viewport.Model
	ready        bool
	width        int
	height       int

	active    panel
	locations []string // sorted, grouped by region
	items     []string // sorted
	locIndex  int
	itemIndex int

	statusLine string
	lastError  string

	showQuitModal bool
}

type pushMsg struct {
	message protocol.Message
}

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")). // pink
			Bold(true)

	regionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")). // purple
			Bold(true)

	reachableStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // green

	unreachableStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("196")) // red

	checkedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")). // dark grey
			Strikethrough(true)

	unknownStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // yellow

	staleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("205")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	panelStyle = lipgloss.NewStyle().
			PaddingTop(1).
			PaddingLeft(2).
			PaddingRight(1)

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2).
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255"))

	modalTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Align(lipgloss.Center)

	titleCaser = cases.Title(language.English)
)

func NewTrackerUI(p *proxy.Proxy) TrackerUI {
	ui := TrackerUI{
		proxy:        p,
		locViewport:  viewport.New(50, 20),
		metaViewport: viewport.New(30, 20),
		active:       panelLocations,
	}
	ui.locViewport.MouseWheelEnabled = true
	ui.rebuildIndex()
	return ui
}

// rebuildIndex flattens the pack into stable display orders: locations are
// grouped by region, both sorted.
func (m *TrackerUI) rebuildIndex() {
	pack := m.proxy.Pack()
	if pack == nil {
		return
	}

	m.locations = m.locations[:0]
	var regions []string
	for name := range pack.Regions {
		regions = append(regions, name)
	}
	sort.Strings(regions)
	for _, region := range regions {
		m.locations = append(m.locations, pack.LocationsInRegion(region)...)
	}

	m.items = m.items[:0]
	for name := range pack.Items {
		m.items = append(m.items, name)
	}
	sort.Strings(m.items)
}

// listenForPushes surfaces the next engine push as a message. Re-armed after
// every receipt so the UI follows the engine continuously.
func (m TrackerUI) listenForPushes() tea.Cmd {
	return func() tea.Msg {
		return pushMsg{message: <-m.proxy.Notifications()}
	}
}

func (m TrackerUI) Init() tea.Cmd {
	return m.listenForPushes()
}

func (m TrackerUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.showQuitModal {
		return m.updateQuitModal(msg)
	}

	var (
		lvCmd tea.Cmd
		mvCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		locWidth := int(float64(m.width)*0.6) - 2
		metaWidth := m.width - locWidth - 6
		m.locViewport.Width = locWidth
		m.locViewport.Height = m.height - 5
		m.metaViewport.Width = metaWidth
		m.metaViewport.Height = m.height - 5
		m.ready = true
		m.refresh()

	case pushMsg:
		switch push := msg.message.(type) {
		case *protocol.StateSnapshot:
			m.statusLine = ""
		case *protocol.RulesLoaded:
			m.rebuildIndex()
		case *protocol.ErrorPush:
			m.lastError = push.Message
		}
		m.refresh()
		return m, m.listenForPushes()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.showQuitModal = true
			return m, nil
		case tea.KeyTab:
			if m.active == panelLocations {
				m.active = panelItems
			} else {
				m.active = panelLocations
			}
			m.refresh()
		case tea.KeyUp:
			m.move(-1)
			m.refresh()
		case tea.KeyDown:
			m.move(1)
			m.refresh()
		case tea.KeyEnter:
			return m.activate()
		default:
			return m.handleKey(msg.String())
		}
	}

	m.locViewport, lvCmd = m.locViewport.Update(msg)
	m.metaViewport, mvCmd = m.metaViewport.Update(msg)
	return m, tea.Batch(lvCmd, mvCmd)
}

func (m *TrackerUI) move(delta int) {
	if m.active == panelLocations && len(m.locations) > 0 {
		m.locIndex = clamp(m.locIndex+delta, 0, len(m.locations)-1)
	} else if m.active == panelItems && len(m.items) > 0 {
		m.itemIndex = clamp(m.itemIndex+delta, 0, len(m.items)-1)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// activate checks the selected location or collects the selected item. The
// command is fire-and-forget: the next snapshot push refreshes the view.
func (m TrackerUI) activate() (tea.Model, tea.Cmd) {
	switch m.active {
	case panelLocations:
		if len(m.locations) == 0 {
			return m, nil
		}
		name := m.locations[m.locIndex]
		if err := m.proxy.CheckLocation(name); err != nil {
			m.lastError = err.Error()
		} else {
			m.statusLine = "checked " + name
		}
	case panelItems:
		if len(m.items) == 0 {
			return m, nil
		}
		if err := m.proxy.AddItem(m.items[m.itemIndex], 1); err != nil {
			m.lastError = err.Error()
		}
	}
	m.refresh()
	return m, nil
}

func (m TrackerUI) handleKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "q":
		m.showQuitModal = true
		return m, nil
	case "+", "=":
		if len(m.items) > 0 {
			if err := m.proxy.AddItem(m.items[m.itemIndex], 1); err != nil {
				m.lastError = err.Error()
			}
		}
	case "-":
		if len(m.items) > 0 {
			if err := m.proxy.AddItem(m.items[m.itemIndex], -1); err != nil {
				m.lastError = err.Error()
			}
		}
	case "R":
		if err := m.proxy.Reset(); err != nil {
			m.lastError = err.Error()
		} else {
			m.statusLine = "state cleared"
		}
	case "c":
		if m.active == panelLocations && len(m.locations) > 0 {
			name := m.locations[m.locIndex]
			if err := clipboard.WriteAll(name); err == nil {
				m.statusLine = "copied " + name
			}
		}
	}
	m.refresh()
	return m, nil
}

// refresh re-renders both panels from the proxy's cached snapshot. Reads go
// through the snapshot context, so rendering never blocks on the engine.
func (m *TrackerUI) refresh() {
	if !m.ready {
		return
	}
	m.locViewport.SetContent(m.renderLocations())
	m.metaViewport.SetContent(m.renderMeta())
}

func (m *TrackerUI) renderLocations() string {
	pack := m.proxy.Pack()
	snap := m.proxy.Snapshot()
	if pack == nil || snap == nil {
		return "Waiting for rule data..."
	}

	var b strings.Builder
	lastRegion := ""
	for i, name := range m.locations {
		loc := pack.Locations[name]
		if loc.Region != lastRegion {
			lastRegion = loc.Region
			b.WriteString("\n" + regionStyle.Render(titleCaser.String(lastRegion)) + "\n")
		}

		line := "  " + m.statusGlyph(snap, name) + " " + name
		if m.active == panelLocations && i == m.locIndex {
			line = selectedStyle.Render("▶" + line[1:])
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// statusGlyph maps a location's tri-state reachability to a colored marker.
// Absent status (never computed) renders as unknown, not as a guess.
func (m *TrackerUI) statusGlyph(snap *state.Snapshot, name string) string {
	st, ok := snap.Status(name)
	if !ok {
		return unknownStyle.Render("?")
	}
	switch st {
	case state.StatusChecked:
		return checkedStyle.Render("✓")
	case state.StatusReachable:
		return reachableStyle.Render("●")
	case state.StatusUnreachable:
		return unreachableStyle.Render("✗")
	default:
		return unknownStyle.Render("?")
	}
}

func (m *TrackerUI) renderMeta() string {
	pack := m.proxy.Pack()
	snap := m.proxy.Snapshot()
	if pack == nil || snap == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(titleCaser.String(pack.Game)) + "\n\n")

	b.WriteString(regionStyle.Render("Inventory") + "\n")
	for i, name := range m.items {
		count := snap.Inventory[name]
		line := fmt.Sprintf("  %s ×%d", name, count)
		if m.active == panelItems && i == m.itemIndex {
			line = selectedStyle.Render("▶" + line[1:])
		} else if count == 0 {
			line = checkedStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}

	checked := 0
	for _, name := range m.locations {
		if st, ok := snap.Status(name); ok && st == state.StatusChecked {
			checked++
		}
	}
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Checked: %d/%d\n", checked, len(m.locations)))
	b.WriteString(fmt.Sprintf("Revision: %d\n", snap.Revision))

	if m.lastError != "" {
		b.WriteString("\n" + errorStyle.Render(wordwrap.String("Error: "+m.lastError, m.metaViewport.Width-2)) + "\n")
	}

	b.WriteString("\n" + helpStyle.Render(wordwrap.String(
		"Tab: switch panel • Enter: check/collect • +/-: adjust item • c: copy name • R: reset • q: quit",
		m.metaViewport.Width-2)))
	return b.String()
}

func (m TrackerUI) updateQuitModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEnter:
			return m, tea.Quit
		default:
			switch msg.String() {
			case "y", "Y":
				return m, tea.Quit
			case "n", "N", "esc":
				m.showQuitModal = false
				return m, nil
			}
		}
	}
	return m, nil
}

func (m TrackerUI) renderQuitModal() string {
	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Quit Tracker?"))
	content.WriteString("\n\n")
	content.WriteString("Progress is kept by the engine; quitting only closes this panel.")
	content.WriteString("\n\n")
	content.WriteString(helpStyle.Render("Press Y to quit, N to keep tracking"))

	modal := modalStyle.Width(50).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m TrackerUI) View() string {
	if m.showQuitModal {
		return m.renderQuitModal()
	}
	if !m.ready {
		return "\n  Initializing..."
	}

	header := titleStyle.Render("LOCKPICK TRACKER")
	if m.proxy.IsPotentiallyStale() {
		header += "  " + staleStyle.Render("● syncing")
	}
	if m.statusLine != "" {
		header += "  " + helpStyle.Render(m.statusLine)
	}

	locPanel := panelStyle.Render(m.locViewport.View())
	metaPanel := panelStyle.Render(m.metaViewport.View())

	return header + "\n" + lipgloss.JoinHorizontal(lipgloss.Top, locPanel, metaPanel)
}
