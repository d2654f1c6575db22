package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/notes/client/pkg/app"
	"github.com/malbeclabs/notes/client/pkg/notes"
	"github.com/malbeclabs/notes/client/pkg/program"
	"github.com/malbeclabs/notes/client/pkg/wallet"
	"github.com/spf13/cobra"
)

func newListCommand(r *root) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the notes of the wallet or of --address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var o openOptions
			if address != "" {
				pk, err := wallet.ParseAddress(address)
				if err != nil {
					return err
				}
				o.external = &pk
			}
			a, closeApp, err := r.openApp(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer closeApp()

			snap, err := waitList(cmd.Context(), a.View)
			if err != nil {
				return err
			}
			printNotes(cmd.OutOrStdout(), a, snap)
			return nil
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "list the notes of another address")
	return cmd
}

func newCreateCommand(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "create NAME VALUE",
		Short: "Create a note",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.mutate(cmd, "Created", args[0], func(ctx context.Context, a *app.App, _ program.Key) (solana.Signature, error) {
				return a.View.Create(ctx, args[0], args[1])
			})
		},
	}
}

func newEditCommand(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "edit NAME VALUE",
		Short: "Replace the value of a note",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.mutate(cmd, "Updated", args[0], func(ctx context.Context, a *app.App, key program.Key) (solana.Signature, error) {
				return a.View.Edit(ctx, key, args[1])
			})
		},
	}
}

func newDeleteCommand(r *root) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a note and reclaim its rent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.mutate(cmd, "Deleted", args[0], func(ctx context.Context, a *app.App, key program.Key) (solana.Signature, error) {
				if err := a.View.RequestDelete(key); err != nil {
					return solana.Signature{}, err
				}
				if !yes {
					ok, err := r.opts.Prompt(fmt.Sprintf("Delete note %q?", key.Name))
					if err != nil || !ok {
						a.View.CancelDelete()
						if err == nil {
							err = errCancelled
						}
						return solana.Signature{}, err
					}
				}
				return a.View.ConfirmDelete(ctx)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "delete without asking for confirmation")
	return cmd
}

var errCancelled = errors.New("cancelled")

// mutate loads the list, runs fn against the note named name of the listed address and
// prints the transaction.
func (r *root) mutate(cmd *cobra.Command, verb, name string, fn func(context.Context, *app.App, program.Key) (solana.Signature, error)) error {
	a, closeApp, err := r.openApp(cmd.Context(), openOptions{})
	if err != nil {
		return err
	}
	defer closeApp()

	snap, err := waitList(cmd.Context(), a.View)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), r.cfg.ConfirmTimeout.Std())
	defer cancel()
	sig, err := fn(ctx, a, program.Key{Author: *snap.Address, Name: name})
	if errors.Is(err, errCancelled) {
		fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
		return nil
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s note %q\n", verb, name)
	fmt.Fprintf(out, "Transaction: %s\n", sig)
	fmt.Fprintf(out, "Explorer:    %s\n", a.Session.Cluster().ExplorerURL("tx/"+sig.String()))
	return nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Faint(true)
)

func printNotes(w io.Writer, a *app.App, snap notes.Snapshot) {
	st := a.Session.State()
	owner := "wallet"
	if snap.IsExternal {
		owner = "external address"
	}
	fmt.Fprintf(w, "%s %s on %s\n", owner, snap.Address, st.Cluster.DisplayName)
	if len(snap.Notes) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No notes found."))
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("NAME", "VALUE", "CREATED")
	for _, n := range snap.Notes {
		t.Row(n.Name, n.Value, time.Unix(n.InitTime, 0).UTC().Format(time.RFC3339))
	}
	fmt.Fprintln(w, t.Render())
}
