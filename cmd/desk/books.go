package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"library-desk/internal/catalog"
	"library-desk/internal/lending"
	"library-desk/internal/models"

	"github.com/spf13/cobra"
)

func newBooksCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "books",
		Short: "Browse and manage the catalog",
	}
	cmd.AddCommand(
		newBooksListCmd(get),
		newBooksAddCmd(get),
		newBooksEditCmd(get),
		newBooksDeleteCmd(get),
	)
	return cmd
}

func newBooksListCmd(get func() *app) *cobra.Command {
	var (
		page   int
		search string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List one page of the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx, _, err := a.authenticate(cmd.Context())
			if err != nil {
				return err
			}
			result, err := catalog.NewClient(a.api, a.logger).Query(ctx, page, search)
			if err != nil {
				return err
			}
			printBooks(a.out, result)
			return nil
		},
	}
	cmd.Flags().IntVarP(&page, "page", "p", 1, "page to show")
	cmd.Flags().StringVarP(&search, "search", "s", "", "filter by title, author or ISBN")
	return cmd
}

func newBooksAddCmd(get func() *app) *cobra.Command {
	var draft models.BookDraft
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a book to the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx, _, err := a.authenticate(cmd.Context())
			if err != nil {
				return err
			}
			book, err := a.inventory().Create(ctx, draft)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Added book #%d %q\n", book.ID, book.Title)
			return nil
		},
	}
	cmd.Flags().StringVar(&draft.Title, "title", "", "title")
	cmd.Flags().StringVar(&draft.Author, "author", "", "author")
	cmd.Flags().StringVar(&draft.ISBN, "isbn", "", "ISBN")
	cmd.Flags().IntVar(&draft.Quantity, "quantity", 1, "copies on hand")
	return cmd
}

func newBooksEditCmd(get func() *app) *cobra.Command {
	var (
		title, author, isbn string
		quantity            int
	)
	cmd := &cobra.Command{
		Use:   "edit BOOK_ID",
		Short: "Change fields of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			id, err := parseID("book", args[0])
			if err != nil {
				return err
			}
			ctx, _, err := a.authenticate(cmd.Context())
			if err != nil {
				return err
			}

			var patch models.BookPatch
			flags := cmd.Flags()
			if flags.Changed("title") {
				patch.Title = &title
			}
			if flags.Changed("author") {
				patch.Author = &author
			}
			if flags.Changed("isbn") {
				patch.ISBN = &isbn
			}
			if flags.Changed("quantity") {
				patch.Quantity = &quantity
			}

			book, err := a.inventory().Update(ctx, id, patch)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Updated book #%d %q (%d on hand)\n", book.ID, book.Title, book.Quantity)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&author, "author", "", "new author")
	cmd.Flags().StringVar(&isbn, "isbn", "", "new ISBN")
	cmd.Flags().IntVar(&quantity, "quantity", 0, "new number of copies on hand")
	return cmd
}

func newBooksDeleteCmd(get func() *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete BOOK_ID",
		Short: "Delete a book that has no active loans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			id, err := parseID("book", args[0])
			if err != nil {
				return err
			}
			ctx, _, err := a.authenticate(cmd.Context())
			if err != nil {
				return err
			}
			if !yes {
				answer, err := a.prompt(fmt.Sprintf("Delete book #%d? [y/N] ", id))
				if err != nil {
					return err
				}
				if answer != "y" && answer != "Y" {
					fmt.Fprintln(a.out, "Cancelled")
					return nil
				}
			}
			if err := a.inventory().Delete(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Deleted book #%d\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newIssueCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "issue BOOK_ID USER_ID",
		Short: "Lend one copy of a book to a borrower",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			bookID, err := parseID("book", args[0])
			if err != nil {
				return err
			}
			userID, err := parseID("user", args[1])
			if err != nil {
				return err
			}
			ctx, _, err := a.authenticate(cmd.Context())
			if err != nil {
				return err
			}
			loan, err := a.lending().Issue(ctx, bookID, userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Issued book #%d to user #%d (loan #%d)\n", loan.BookID, loan.UserID, loan.ID)
			return nil
		},
	}
}

func newReturnCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "return LOAN_ID",
		Short: "Return an issued book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			loanID, err := parseID("loan", args[0])
			if err != nil {
				return err
			}
			ctx, _, err := a.authenticate(cmd.Context())
			if err != nil {
				return err
			}

			controller := a.lending()
			loans, err := controller.Loans(ctx)
			if err != nil {
				return err
			}
			loan, ok := findLoan(loans, loanID)
			if !ok {
				return fmt.Errorf("loan #%d not found", loanID)
			}

			returned, err := controller.Return(ctx, loan)
			if errors.Is(err, lending.ErrAlreadyReturned) {
				fmt.Fprintf(a.out, "Loan #%d was already returned\n", loanID)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Returned book #%d (loan #%d)\n", returned.BookID, returned.ID)
			return nil
		},
	}
}

func newLoansCmd(get func() *app) *cobra.Command {
	var (
		userID int64
		page   int
	)
	cmd := &cobra.Command{
		Use:   "loans",
		Short: "List loans (customers see their own)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx, user, err := a.authenticate(cmd.Context())
			if err != nil {
				return err
			}

			controller := a.lending()
			var loans []models.Loan
			switch {
			case !user.Role.CanManageCatalog():
				loans, err = controller.BorrowerLoans(ctx, user.ID)
			case userID > 0:
				loans, err = controller.BorrowerLoans(ctx, userID)
			default:
				loans, err = controller.Loans(ctx)
			}
			if err != nil {
				return err
			}
			printLoans(a.out, loans, page)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "only loans of this borrower (staff)")
	cmd.Flags().IntVarP(&page, "page", "p", 1, "page to show")
	return cmd
}

func newUsersCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage accounts (admin)",
	}

	var draft models.UserDraft
	var role string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx, _, err := a.authenticate(cmd.Context())
			if err != nil {
				return err
			}
			draft.Role = models.Role(role)
			if !draft.Role.Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
			if draft.Password, err = a.readPassword(fmt.Sprintf("Password for %s: ", draft.Email)); err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			user, err := a.api.AddUser(ctx, draft)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Created %s account #%d for %s\n", user.Role, user.ID, user.Email)
			return nil
		},
	}
	add.Flags().StringVar(&draft.Name, "name", "", "full name")
	add.Flags().StringVar(&draft.Email, "email", "", "email address")
	add.Flags().StringVar(&role, "role", string(models.RoleCustomer), "admin, librarian or customer")
	_ = add.MarkFlagRequired("name")
	_ = add.MarkFlagRequired("email")

	cmd.AddCommand(add)
	return cmd
}

func parseID(what, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid %s id %q", what, s)
	}
	return id, nil
}

func findLoan(loans []models.Loan, id int64) (models.Loan, bool) {
	for _, l := range loans {
		if l.ID == id {
			return l, true
		}
	}
	return models.Loan{}, false
}

func printBooks(out io.Writer, page models.CatalogPage) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tAUTHOR\tISBN\tQTY")
	for _, b := range page.Books {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", b.ID, b.Title, b.Author, b.ISBN, b.Quantity)
	}
	w.Flush()
	fmt.Fprintf(out, "Page %d of %d\n", page.CurrentPage, max(1, page.TotalPages))
}

func printLoans(out io.Writer, loans []models.Loan, page int) {
	total := models.TotalPagesFor(len(loans), catalog.PageSize)
	page = models.ClampPage(page, total)
	start := (page - 1) * catalog.PageSize
	end := min(start+catalog.PageSize, len(loans))

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LOAN\tBOOK\tBORROWER\tISSUED\tRETURNED\tSTATUS")
	for _, l := range loans[start:end] {
		returned := "-"
		if l.ReturnedAt != nil {
			returned = l.ReturnedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\t%s\n", l.ID, l.BookID, l.UserID, l.IssuedAt.Local().Format("2006-01-02 15:04"), returned, l.Status())
	}
	w.Flush()
	fmt.Fprintf(out, "Page %d of %d\n", page, max(1, total))
}
