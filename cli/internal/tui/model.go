package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/notes/client/pkg/account"
	"github.com/malbeclabs/notes/client/pkg/app"
	"github.com/malbeclabs/notes/client/pkg/cluster"
	"github.com/malbeclabs/notes/client/pkg/notes"
	"github.com/malbeclabs/notes/client/pkg/program"
	"github.com/malbeclabs/notes/client/pkg/session"
	"github.com/malbeclabs/notes/client/pkg/wallet"
)

const (
	nameLimit  = 50
	valueLimit = 500
)

type mode int

const (
	modeList mode = iota
	modeCreate
	modeEdit
	modeAddress
	modeCluster
)

type (
	snapshotMsg notes.Snapshot
	accountMsg  account.Data
	sessionMsg  session.State

	mutationMsg struct {
		verb string
		name string
		sig  solana.Signature
		err  error
	}
	clusterMsg struct {
		name string
		err  error
	}
	refreshMsg struct{ err error }
)

type model struct {
	ctx            context.Context
	log            *slog.Logger
	app            *app.App
	confirmTimeout time.Duration

	width int

	snap notes.Snapshot
	acct account.Data
	st   session.State

	mode     mode
	cursor   int
	clusters []cluster.Info
	picked   int

	name    textinput.Model
	value   textarea.Model
	edit    textarea.Model
	editKey program.Key
	address textinput.Model

	spin spinner.Model
	help help.Model

	pending string
	status  string
	err     string
}

func newModel(ctx context.Context, cfg Config) model {
	name := textinput.New()
	name.Placeholder = "Note name"
	name.Prompt = ""
	name.CharLimit = nameLimit
	name.Width = nameLimit

	value := textarea.New()
	value.Placeholder = "Write your note..."
	value.CharLimit = valueLimit
	value.ShowLineNumbers = false
	value.SetWidth(60)
	value.SetHeight(4)

	edit := textarea.New()
	edit.CharLimit = valueLimit
	edit.ShowLineNumbers = false
	edit.SetWidth(60)
	edit.SetHeight(4)

	addr := textinput.New()
	addr.Placeholder = "Solana address"
	addr.Prompt = "› "
	addr.CharLimit = 44
	addr.Width = 46

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = statusStyle

	return model{
		ctx:            ctx,
		log:            cfg.Logger,
		app:            cfg.App,
		confirmTimeout: cfg.ConfirmTimeout,
		snap:           cfg.App.View.Snapshot(),
		acct:           cfg.App.Watcher.Data(),
		st:             cfg.App.Session.State(),
		clusters:       cfg.App.Session.Clusters(),
		name:           name,
		value:          value,
		edit:           edit,
		address:        addr,
		spin:           sp,
		help:           help.New(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, textinput.Blink)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil
	case snapshotMsg:
		if msg.Seq < m.snap.Seq {
			return m, nil
		}
		m.snap = notes.Snapshot(msg)
		m.clampCursor()
		return m, nil
	case accountMsg:
		m.acct = account.Data(msg)
		return m, nil
	case sessionMsg:
		m.st = session.State(msg)
		return m, nil
	case mutationMsg:
		return m.onMutation(msg), nil
	case clusterMsg:
		if msg.err != nil {
			m.err = fmt.Sprintf("Failed to switch to %s: %v", msg.name, msg.err)
		} else {
			m.status = "Switched to " + m.st.Cluster.DisplayName
		}
		return m, nil
	case refreshMsg:
		if msg.err != nil {
			m.err = msg.err.Error()
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.snap.PendingDelete != nil {
			return m.updateConfirm(msg)
		}
		switch m.mode {
		case modeCreate:
			return m.updateCreate(msg)
		case modeEdit:
			return m.updateEdit(msg)
		case modeAddress:
			return m.updateAddress(msg)
		case modeCluster:
			return m.updateCluster(msg)
		}
		return m.updateList(msg)
	}
	return m, nil
}

func (m model) onMutation(msg mutationMsg) model {
	m.pending = ""
	if msg.err != nil {
		m.log.Warn("tui: mutation failed", "op", msg.verb, "name", msg.name, "error", msg.err)
		m.err = fmt.Sprintf("Failed to %s note: %v", msg.verb, msg.err)
		return m
	}
	m.err = ""
	m.status = fmt.Sprintf("%sd %q  %s", capitalize(msg.verb), msg.name, m.st.Cluster.ExplorerURL("tx/"+msg.sig.String()))
	switch msg.verb {
	case "create":
		m.name.Reset()
		m.value.Reset()
		m.name.Blur()
		m.value.Blur()
		m.mode = modeList
	case "update":
		m.edit.Reset()
		m.edit.Blur()
		m.mode = modeList
	}
	return m
}

func (m model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, keys.Down):
		if m.cursor < len(m.snap.Notes)-1 {
			m.cursor++
		}
	case key.Matches(msg, keys.New):
		m.mode = modeCreate
		m.value.Blur()
		return m, m.name.Focus()
	case key.Matches(msg, keys.Edit):
		n, ok := m.selected()
		if !ok {
			return m, nil
		}
		m.mode = modeEdit
		m.editKey = program.Key{Author: n.Author, Name: n.Name}
		m.edit.SetValue(n.Value)
		return m, m.edit.Focus()
	case key.Matches(msg, keys.Delete):
		n, ok := m.selected()
		if !ok {
			return m, nil
		}
		if err := m.app.View.RequestDelete(program.Key{Author: n.Author, Name: n.Name}); err != nil {
			m.err = err.Error()
		}
		m.snap = m.app.View.Snapshot()
	case key.Matches(msg, keys.Refresh):
		return m, m.refresh()
	case key.Matches(msg, keys.Cluster):
		m.mode = modeCluster
		m.picked = 0
		for i, c := range m.clusters {
			if c.Name == m.st.Cluster.Name {
				m.picked = i
			}
		}
	case key.Matches(msg, keys.Address):
		m.mode = modeAddress
		m.address.Reset()
		return m, m.address.Focus()
	case key.Matches(msg, keys.Reset):
		m.app.Session.ResetToWallet()
		m.st = m.app.Session.State()
		m.cursor = 0
	case key.Matches(msg, keys.Dismiss):
		m.err = ""
		m.app.View.DismissError()
		m.snap = m.app.View.Snapshot()
	}
	return m, nil
}

func (m model) updateCreate(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Cancel):
		m.mode = modeList
		m.name.Blur()
		m.value.Blur()
		return m, nil
	case key.Matches(msg, keys.Next):
		if m.name.Focused() {
			m.name.Blur()
			return m, m.value.Focus()
		}
		m.value.Blur()
		return m, m.name.Focus()
	case key.Matches(msg, keys.Submit):
		name, value := m.name.Value(), m.value.Value()
		m.pending = "create"
		return m, m.mutate("create", name, func(ctx context.Context) (solana.Signature, error) {
			return m.app.View.Create(ctx, name, value)
		})
	case msg.Type == tea.KeyEnter && m.name.Focused():
		m.name.Blur()
		return m, m.value.Focus()
	}

	var cmd tea.Cmd
	if m.name.Focused() {
		m.name, cmd = m.name.Update(msg)
	} else {
		m.value, cmd = m.value.Update(msg)
	}
	return m, cmd
}

func (m model) updateEdit(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Cancel):
		m.mode = modeList
		m.edit.Blur()
		return m, nil
	case key.Matches(msg, keys.Submit):
		k, value := m.editKey, m.edit.Value()
		m.pending = "update"
		return m, m.mutate("update", k.Name, func(ctx context.Context) (solana.Signature, error) {
			return m.app.View.Edit(ctx, k, value)
		})
	}
	var cmd tea.Cmd
	m.edit, cmd = m.edit.Update(msg)
	return m, cmd
}

func (m model) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Confirm):
		name := m.snap.PendingDelete.Name
		m.pending = "delete"
		return m, m.mutate("delete", name, m.app.View.ConfirmDelete)
	case key.Matches(msg, keys.Decline):
		m.app.View.CancelDelete()
		m.snap = m.app.View.Snapshot()
	}
	return m, nil
}

func (m model) updateAddress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Cancel):
		m.mode = modeList
		m.address.Blur()
		return m, nil
	case msg.Type == tea.KeyEnter:
		pk, err := wallet.ParseAddress(m.address.Value())
		if err != nil {
			m.err = err.Error()
			return m, nil
		}
		m.app.Session.SetExternalAddress(&pk)
		m.st = m.app.Session.State()
		m.mode = modeList
		m.cursor = 0
		m.address.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.address, cmd = m.address.Update(msg)
	return m, cmd
}

func (m model) updateCluster(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Cancel):
		m.mode = modeList
	case key.Matches(msg, keys.Up):
		if m.picked > 0 {
			m.picked--
		}
	case key.Matches(msg, keys.Down):
		if m.picked < len(m.clusters)-1 {
			m.picked++
		}
	case key.Matches(msg, keys.Select):
		m.mode = modeList
		name := m.clusters[m.picked].Name
		if name == m.st.Cluster.Name {
			return m, nil
		}
		m.cursor = 0
		return m, func() tea.Msg {
			return clusterMsg{name: name, err: m.app.Session.SetClusterName(name)}
		}
	}
	return m, nil
}

func (m model) mutate(verb, name string, fn func(context.Context) (solana.Signature, error)) tea.Cmd {
	ctx, timeout := m.ctx, m.confirmTimeout
	return func() tea.Msg {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		sig, err := fn(ctx)
		return mutationMsg{verb: verb, name: name, sig: sig, err: err}
	}
}

func (m model) refresh() tea.Cmd {
	ctx, view := m.ctx, m.app.View
	return func() tea.Msg {
		return refreshMsg{err: view.Refresh(ctx)}
	}
}

func (m model) selected() (program.Note, bool) {
	if m.cursor < 0 || m.cursor >= len(m.snap.Notes) {
		return program.Note{}, false
	}
	return m.snap.Notes[m.cursor], true
}

func (m *model) clampCursor() {
	if m.cursor >= len(m.snap.Notes) {
		m.cursor = len(m.snap.Notes) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(m.navbar())
	b.WriteString("\n")

	if msg := m.errorMessage(); msg != "" {
		b.WriteString(bannerStyle.Render("✗ "+msg+"  (x to dismiss)") + "\n")
	}
	if m.snap.Busy {
		b.WriteString(m.spin.View() + " " + mutedStyle.Render(m.busyLabel()) + "\n")
	} else if m.status != "" {
		b.WriteString(statusStyle.Render("✓ "+m.status) + "\n")
	}
	b.WriteString("\n")

	switch {
	case m.snap.PendingDelete != nil:
		b.WriteString(m.confirmView())
	case m.mode == modeCreate:
		b.WriteString(m.createView())
	case m.mode == modeEdit:
		b.WriteString(m.editView())
	case m.mode == modeAddress:
		b.WriteString(activePanelStyle.Render(titleStyle.Render("View notes of address") + "\n" + m.address.View()))
	case m.mode == modeCluster:
		b.WriteString(m.clusterView())
	default:
		b.WriteString(m.listView())
	}
	b.WriteString("\n\n")
	b.WriteString(m.help.ShortHelpView(m.helpKeys()))
	return b.String()
}

func (m model) navbar() string {
	sep := navMutedStyle.Render("  │  ")
	parts := []string{
		brandStyle.Render("Notes"),
		navStyle.Render(m.st.Cluster.DisplayName),
		navMutedStyle.Render("program " + wallet.Ellipsify(program.ProgramID.String(), 4)),
	}
	if m.acct.Address != nil {
		addr := wallet.Ellipsify(m.acct.Address.String(), 4)
		if m.st.IsExternal {
			addr += " (viewing)"
		}
		parts = append(parts, navStyle.Render(addr))
		parts = append(parts, navStyle.Render(m.acct.BalanceString()+" SOL"))
	} else {
		parts = append(parts, navMutedStyle.Render("no wallet"))
	}
	if m.acct.Slot > 0 {
		parts = append(parts, navMutedStyle.Render(fmt.Sprintf("slot %d", m.acct.Slot)))
	}
	bar := strings.Join(parts, sep)
	if m.width > 0 {
		return navStyle.Width(m.width).Render(bar)
	}
	return navStyle.Render(bar)
}

func (m model) errorMessage() string {
	if m.snap.Error != "" {
		return m.snap.Error
	}
	return m.err
}

func (m model) busyLabel() string {
	switch m.pending {
	case "create":
		return "Creating note..."
	case "update":
		return "Updating note..."
	case "delete":
		return "Deleting note..."
	}
	return "Loading notes..."
}

func (m model) listView() string {
	switch {
	case !m.snap.Connected:
		return mutedStyle.Render("Not connected.")
	case m.snap.Address == nil:
		return mutedStyle.Render("No wallet configured. Press a to view the notes of an address.")
	case m.snap.ListState == notes.ListLoading && len(m.snap.Notes) == 0:
		return mutedStyle.Render("Loading notes...")
	case len(m.snap.Notes) == 0:
		return mutedStyle.Render("No notes yet. Press n to create one.")
	}

	cards := make([]string, 0, len(m.snap.Notes))
	for i, n := range m.snap.Notes {
		style := cardStyle
		if i == m.cursor {
			style = selectedCardStyle
		}
		created := time.Unix(n.InitTime, 0).Local().Format("2006-01-02 15:04")
		cards = append(cards, style.Render(
			titleStyle.Render(n.Name)+"\n"+n.Value+"\n"+mutedStyle.Render(created),
		))
	}
	return lipgloss.JoinVertical(lipgloss.Left, cards...)
}

func (m model) createView() string {
	body := []string{
		titleStyle.Render("New note"),
		labelStyle.Render("Name") + " " + mutedStyle.Render(counter(m.name.Value(), nameLimit)),
		m.name.View(),
		labelStyle.Render("Value") + " " + mutedStyle.Render(counter(m.value.Value(), valueLimit)),
		m.value.View(),
	}
	return activePanelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, body...))
}

func (m model) editView() string {
	body := []string{
		titleStyle.Render("Edit " + m.editKey.Name),
		mutedStyle.Render(counter(m.edit.Value(), valueLimit)),
		m.edit.View(),
	}
	return activePanelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, body...))
}

func (m model) confirmView() string {
	return dialogStyle.Render(fmt.Sprintf(
		"%s\n\nDelete %q? This closes the note account and returns its rent.",
		titleStyle.Render("Delete note"), m.snap.PendingDelete.Name,
	))
}

func (m model) clusterView() string {
	lines := []string{titleStyle.Render("Select cluster")}
	for i, c := range m.clusters {
		cursor := "  "
		if i == m.picked {
			cursor = "› "
		}
		line := cursor + c.DisplayName + mutedStyle.Render("  "+c.Endpoint)
		if c.Name == m.st.Cluster.Name {
			line += statusStyle.Render("  (active)")
		}
		lines = append(lines, line)
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func (m model) helpKeys() []key.Binding {
	switch {
	case m.snap.PendingDelete != nil:
		return keys.confirmHelp()
	case m.mode == modeCreate || m.mode == modeEdit || m.mode == modeAddress:
		return keys.formHelp()
	case m.mode == modeCluster:
		return keys.pickerHelp()
	}
	return keys.listHelp()
}

func counter(s string, limit int) string {
	return fmt.Sprintf("%d/%d", utf8.RuneCountInString(s), limit)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
