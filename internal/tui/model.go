// Package tui renders the role dashboards of the desk in the terminal.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"library-desk/internal/models"
	"library-desk/internal/view"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

type pane int

const (
	paneBooks pane = iota
	paneLoans
)

// stateMsg carries a fresh coordinator snapshot into the program
type stateMsg view.State

// doneMsg reports the end of a coordinator call run as a command
type doneMsg struct{ err error }

// Model is the dashboard of one signed-in user
type Model struct {
	ctx     context.Context
	desk    *view.Coordinator
	changed chan struct{}
	stop    func()

	state view.State
	role  models.Role

	search    textinput.Model
	searching bool

	focus      pane
	bookCursor int
	loanCursor int

	form  *form
	flash string

	width int
}

// New subscribes a dashboard to desk. Call Close when the program exits.
func New(ctx context.Context, desk *view.Coordinator) Model {
	changed := make(chan struct{}, 1)
	stop := desk.Subscribe(func(view.State) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	search := textinput.New()
	search.Placeholder = "Search title, author or ISBN"
	search.Prompt = "/ "
	search.CharLimit = 100
	search.Width = 40

	state := desk.State()
	m := Model{
		ctx:     ctx,
		desk:    desk,
		changed: changed,
		stop:    stop,
		state:   state,
		role:    state.User.Role,
		search:  search,
	}
	if !m.staff() {
		m.focus = paneLoans
	}
	return m
}

// Close removes the dashboard's subscription
func (m Model) Close() {
	m.stop()
}

// Run shows the dashboard until the user quits
func Run(ctx context.Context, desk *view.Coordinator, opts ...tea.ProgramOption) error {
	m := New(ctx, desk)
	defer m.Close()

	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	_, err := tea.NewProgram(m, opts...).Run()
	return err
}

func (m Model) staff() bool { return m.role.CanManageCatalog() }

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitForChange(), m.call(m.desk.Refresh))
}

func (m Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.changed:
			return stateMsg(m.desk.State())
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m Model) call(fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return doneMsg{err: fn(m.ctx)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case stateMsg:
		m.apply(view.State(msg))
		return m, m.waitForChange()

	case doneMsg:
		if errors.Is(msg.err, view.ErrSubmitInProgress) {
			m.flash = msg.err.Error()
		}
		m.apply(m.desk.State())
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.state.Modal != view.ModalNone {
			return m.updateModal(msg)
		}
		if m.searching {
			return m.updateSearch(msg)
		}
		return m.updateDashboard(msg)
	}
	return m, nil
}

// apply takes a new snapshot and keeps the cursors on existing rows
func (m *Model) apply(s view.State) {
	m.state = s
	if s.Modal == view.ModalNone {
		m.form = nil
	}
	m.bookCursor = clampCursor(m.bookCursor, len(s.Books))
	m.loanCursor = clampCursor(m.loanCursor, len(m.visibleLoans()))
}

func clampCursor(cursor, n int) int {
	if cursor >= n {
		cursor = n - 1
	}
	if cursor < 0 {
		cursor = 0
	}
	return cursor
}

func (m Model) visibleLoans() []models.Loan {
	if m.staff() {
		return m.state.Loans
	}
	return m.state.LoansOnPage(m.state.LoansPage)
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.searching = false
		m.search.Blur()
		m.desk.FlushSearch()
		return m, nil
	case "esc":
		m.searching = false
		m.search.Blur()
		return m, nil
	}

	var cmd tea.Cmd
	before := m.search.Value()
	m.search, cmd = m.search.Update(msg)
	if m.search.Value() != before {
		m.desk.SetSearchTerm(m.search.Value())
	}
	return m, cmd
}

func (m Model) updateDashboard(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.flash = ""
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "r":
		m.desk.DismissMessages()
		return m, m.call(m.desk.Refresh)
	case "up", "k":
		m.moveCursor(-1)
	case "down", "j":
		m.moveCursor(1)
	case "right", "n":
		if m.focus == paneLoans && !m.staff() {
			m.desk.MyLoansPage(m.state.LoansPage + 1)
			return m, nil
		}
		return m, m.call(m.desk.NextPage)
	case "left", "p":
		if m.focus == paneLoans && !m.staff() {
			m.desk.MyLoansPage(m.state.LoansPage - 1)
			return m, nil
		}
		return m, m.call(m.desk.PrevPage)
	case "tab":
		if m.staff() {
			m.focus = 1 - m.focus
		}
	case "/":
		if m.staff() {
			m.searching = true
			return m, m.search.Focus()
		}
	}

	if !m.staff() {
		return m, nil
	}
	return m.staffKey(msg)
}

func (m Model) staffKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	book, hasBook := m.selectedBook()
	switch msg.String() {
	case "a":
		m.openForm(m.desk.OpenAddBook(), bookForm("Add book", nil))
	case "e":
		if hasBook {
			m.openForm(m.desk.OpenEditBook(book), bookForm("Edit book", &book))
		}
	case "d":
		if hasBook {
			m.openForm(m.desk.OpenConfirmDelete(book), nil)
		}
	case "i":
		if hasBook {
			m.openForm(m.desk.OpenIssue(book), issueForm(book))
		}
	case "enter":
		if loan, ok := m.selectedLoan(); ok && m.focus == paneLoans && loan.Active() {
			m.openForm(m.desk.OpenReturn(loan), nil)
		}
	case "u":
		if m.role == models.RoleAdmin {
			m.openForm(m.desk.OpenAddUser(), userForm())
		}
	}
	return m, nil
}

func (m *Model) openForm(err error, f *form) {
	if err != nil {
		m.flash = err.Error()
		return
	}
	m.form = f
	m.state = m.desk.State()
}

func (m *Model) moveCursor(delta int) {
	if m.focus == paneBooks {
		m.bookCursor = clampCursor(m.bookCursor+delta, len(m.state.Books))
		return
	}
	m.loanCursor = clampCursor(m.loanCursor+delta, len(m.visibleLoans()))
}

func (m Model) selectedBook() (models.Book, bool) {
	if m.focus != paneBooks || m.bookCursor >= len(m.state.Books) {
		return models.Book{}, false
	}
	return m.state.Books[m.bookCursor], true
}

func (m Model) selectedLoan() (models.Loan, bool) {
	loans := m.visibleLoans()
	if m.loanCursor >= len(loans) {
		return models.Loan{}, false
	}
	return loans[m.loanCursor], true
}

func (m Model) updateModal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.state.Submitting {
		return m, nil
	}
	if msg.String() == "esc" {
		m.flash = ""
		if err := m.desk.CloseModal(); err != nil {
			m.flash = err.Error()
		}
		m.apply(m.desk.State())
		return m, nil
	}

	switch m.state.Modal {
	case view.ModalConfirmDelete:
		if msg.String() == "y" {
			return m, m.call(m.desk.DeleteBook)
		}
		return m, nil
	case view.ModalReturn:
		if msg.String() == "y" {
			return m, m.call(m.desk.ReturnLoan)
		}
		return m, nil
	}

	if m.form == nil {
		return m, nil
	}
	if msg.String() == "enter" {
		return m.submit()
	}
	return m, m.form.update(msg)
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	m.flash = ""
	f := m.form
	switch m.state.Modal {
	case view.ModalAddBook:
		draft, err := bookDraftFrom(f)
		if err != nil {
			m.flash = err.Error()
			return m, nil
		}
		return m, m.call(func(ctx context.Context) error { return m.desk.AddBook(ctx, draft) })

	case view.ModalEditBook:
		if m.state.SelectedBook == nil {
			return m, nil
		}
		patch, err := bookPatchFrom(f, *m.state.SelectedBook)
		if err != nil {
			m.flash = err.Error()
			return m, nil
		}
		return m, m.call(func(ctx context.Context) error { return m.desk.EditBook(ctx, patch) })

	case view.ModalIssue:
		borrower, err := borrowerFrom(f)
		if err != nil {
			m.flash = err.Error()
			return m, nil
		}
		return m, m.call(func(ctx context.Context) error { return m.desk.IssueBook(ctx, borrower) })

	case view.ModalAddUser:
		draft := userDraftFrom(f)
		return m, m.call(func(ctx context.Context) error { return m.desk.AddUser(ctx, draft) })
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	user := m.state.User
	b.WriteString(titleStyle.Render("Library Desk"))
	b.WriteString(crumbStyle.Render(fmt.Sprintf("  %s dashboard | %s <%s>", titleCase(string(user.Role)), user.Name, user.Email)))
	b.WriteString("\n\n")

	if m.staff() {
		b.WriteString(m.searchView())
		b.WriteString("\n\n")
		b.WriteString(m.booksView())
		b.WriteString("\n\n")
		b.WriteString(m.loansView("Issued books"))
	} else {
		b.WriteString(m.loansView("My books"))
	}
	b.WriteString("\n\n")

	if m.state.Modal != view.ModalNone {
		b.WriteString(m.modalView())
		b.WriteString("\n\n")
	}

	b.WriteString(m.statusView())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.helpText()))
	return b.String()
}

func (m Model) searchView() string {
	if m.searching {
		return m.search.View()
	}
	if m.state.SearchTerm == "" {
		return mutedStyle.Render("/ search")
	}
	return "/ " + m.state.SearchTerm
}

func (m Model) booksView() string {
	rows := []string{headerStyle.Render(fmt.Sprintf("%-6s %-32s %-24s %-18s %4s", "ID", "Title", "Author", "ISBN", "Qty"))}
	if len(m.state.Books) == 0 {
		rows = append(rows, mutedStyle.Render("No books found."))
	}
	for i, book := range m.state.Books {
		line := fmt.Sprintf("%-6d %-32s %-24s %-18s %4d", book.ID, truncate(book.Title, 32), truncate(book.Author, 24), truncate(book.ISBN, 18), book.Quantity)
		if m.focus == paneBooks && i == m.bookCursor {
			line = selectedStyle.Render(line)
		}
		rows = append(rows, line)
	}

	pager := fmt.Sprintf("Page %d of %d", m.state.CurrentPage, m.state.LastPage())
	if m.state.Loading {
		pager += "  loading…"
	}
	rows = append(rows, crumbStyle.Render(pager))
	return strings.Join(rows, "\n")
}

func (m Model) loansView(title string) string {
	rows := []string{
		titleStyle.Render(title),
		headerStyle.Render(fmt.Sprintf("%-6s %-8s %-9s %-17s %-17s %s", "Loan", "Book", "Borrower", "Issued", "Returned", "Status")),
	}
	loans := m.visibleLoans()
	if len(loans) == 0 {
		rows = append(rows, mutedStyle.Render("No loans."))
	}
	for i, loan := range loans {
		returned := "-"
		if loan.ReturnedAt != nil {
			returned = loan.ReturnedAt.Local().Format("2006-01-02 15:04")
		}
		line := fmt.Sprintf("%-6d %-8d %-9d %-17s %-17s %s",
			loan.ID, loan.BookID, loan.UserID, loan.IssuedAt.Local().Format("2006-01-02 15:04"), returned, loan.Status())
		if m.focus == paneLoans && i == m.loanCursor {
			line = selectedStyle.Render(line)
		}
		rows = append(rows, line)
	}
	if !m.staff() {
		rows = append(rows, crumbStyle.Render(fmt.Sprintf("Page %d of %d", m.state.LoansPage, max(1, m.state.LoansTotalPages()))))
	}
	return strings.Join(rows, "\n")
}

func (m Model) modalView() string {
	switch m.state.Modal {
	case view.ModalConfirmDelete:
		title := ""
		if m.state.SelectedBook != nil {
			title = m.state.SelectedBook.Title
		}
		return modalStyle.Render(fmt.Sprintf("Delete %q?\n\n%s", title, helpStyle.Render("y delete | esc cancel")))
	case view.ModalReturn:
		id := int64(0)
		if m.state.SelectedLoan != nil {
			id = m.state.SelectedLoan.ID
		}
		return modalStyle.Render(fmt.Sprintf("Return loan #%d?\n\n%s", id, helpStyle.Render("y return | esc cancel")))
	}
	if m.form == nil {
		return ""
	}
	footer := "enter submit | tab next field | esc cancel"
	if m.state.Submitting {
		footer = "submitting…"
	}
	return m.form.view(footer)
}

func (m Model) statusView() string {
	switch {
	case m.flash != "":
		return errorStyle.Render(m.flash)
	case m.state.Err != "":
		return errorStyle.Render(m.state.Err)
	case m.state.Notice != "":
		return noticeStyle.Render(m.state.Notice)
	}
	return ""
}

func (m Model) helpText() string {
	if m.state.Modal != view.ModalNone {
		return ""
	}
	if !m.staff() {
		return "n/p page | r refresh | q quit"
	}
	help := "j/k move | n/p page | / search | tab switch | a add | e edit | d delete | i issue | enter return | r refresh"
	if m.role == models.RoleAdmin {
		help += " | u add user"
	}
	return help + " | q quit"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
