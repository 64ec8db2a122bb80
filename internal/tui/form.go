package tui

import (
	"fmt"
	"strconv"
	"strings"

	"library-desk/internal/models"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type field struct {
	label string
	input textinput.Model
}

// form is a column of labelled text inputs. Tab and shift+tab move the focus.
type form struct {
	title  string
	fields []field
	focus  int
}

func newForm(title string, labels ...string) *form {
	f := &form{title: title}
	for _, label := range labels {
		in := textinput.New()
		in.CharLimit = 200
		in.Width = 40
		in.Prompt = ""
		f.fields = append(f.fields, field{label: label, input: in})
	}
	if len(f.fields) > 0 {
		f.fields[0].input.Focus()
	}
	return f
}

func (f *form) set(i int, v string) {
	f.fields[i].input.SetValue(v)
}

func (f *form) value(i int) string {
	return strings.TrimSpace(f.fields[i].input.Value())
}

func (f *form) mask(i int) {
	f.fields[i].input.EchoMode = textinput.EchoPassword
	f.fields[i].input.EchoCharacter = '•'
}

func (f *form) move(delta int) {
	if len(f.fields) == 0 {
		return
	}
	f.fields[f.focus].input.Blur()
	f.focus = (f.focus + delta + len(f.fields)) % len(f.fields)
	f.fields[f.focus].input.Focus()
}

func (f *form) update(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "tab", "down":
		f.move(1)
		return nil
	case "shift+tab", "up":
		f.move(-1)
		return nil
	}
	if len(f.fields) == 0 {
		return nil
	}
	var cmd tea.Cmd
	f.fields[f.focus].input, cmd = f.fields[f.focus].input.Update(msg)
	return cmd
}

func (f *form) view(footer string) string {
	rows := []string{titleStyle.Render(f.title), ""}
	for i, fl := range f.fields {
		label := labelStyle.Render(fl.label)
		if i == f.focus {
			label = labelStyle.Copy().Bold(true).Foreground(lipgloss.Color("62")).Render(fl.label)
		}
		rows = append(rows, label+" "+fl.input.View())
	}
	rows = append(rows, "", helpStyle.Render(footer))
	return modalStyle.Render(strings.Join(rows, "\n"))
}

const (
	fieldTitle = iota
	fieldAuthor
	fieldISBN
	fieldQuantity
)

func bookForm(title string, book *models.Book) *form {
	f := newForm(title, "Title", "Author", "ISBN", "Quantity")
	if book != nil {
		f.set(fieldTitle, book.Title)
		f.set(fieldAuthor, book.Author)
		f.set(fieldISBN, book.ISBN)
		f.set(fieldQuantity, strconv.Itoa(book.Quantity))
	}
	return f
}

// bookDraftFrom reads the add book form
func bookDraftFrom(f *form) (models.BookDraft, error) {
	qty, err := parseQuantity(f.value(fieldQuantity))
	if err != nil {
		return models.BookDraft{}, err
	}
	return models.BookDraft{
		Title:    f.value(fieldTitle),
		Author:   f.value(fieldAuthor),
		ISBN:     f.value(fieldISBN),
		Quantity: qty,
	}, nil
}

// bookPatchFrom reads the edit form, keeping only fields that differ from book
func bookPatchFrom(f *form, book models.Book) (models.BookPatch, error) {
	var patch models.BookPatch
	if v := f.value(fieldTitle); v != book.Title {
		patch.Title = &v
	}
	if v := f.value(fieldAuthor); v != book.Author {
		patch.Author = &v
	}
	if v := f.value(fieldISBN); v != book.ISBN {
		patch.ISBN = &v
	}
	qty, err := parseQuantity(f.value(fieldQuantity))
	if err != nil {
		return models.BookPatch{}, err
	}
	if qty != book.Quantity {
		patch.Quantity = &qty
	}
	return patch, nil
}

func parseQuantity(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("quantity must be a whole number")
	}
	return n, nil
}

const (
	fieldName = iota
	fieldEmail
	fieldPassword
	fieldRole
)

func userForm() *form {
	f := newForm("Add user", "Name", "Email", "Password", "Role")
	f.mask(fieldPassword)
	f.fields[fieldRole].input.Placeholder = string(models.RoleCustomer)
	return f
}

func userDraftFrom(f *form) models.UserDraft {
	return models.UserDraft{
		Name:     f.value(fieldName),
		Email:    f.value(fieldEmail),
		Password: f.fields[fieldPassword].input.Value(),
		Role:     models.Role(strings.ToLower(f.value(fieldRole))),
	}
}

func issueForm(book models.Book) *form {
	f := newForm(fmt.Sprintf("Issue %q", book.Title), "Borrower ID")
	f.fields[0].input.CharLimit = 19
	return f
}

func borrowerFrom(f *form) (int64, error) {
	id, err := strconv.ParseInt(f.value(0), 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("borrower ID must be a positive number")
	}
	return id, nil
}
