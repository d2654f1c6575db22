package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/notes/client/pkg/account"
	"github.com/malbeclabs/notes/client/pkg/cluster"
	"github.com/malbeclabs/notes/client/pkg/prefs"
	"github.com/malbeclabs/notes/client/pkg/program"
	"github.com/malbeclabs/notes/client/pkg/wallet"
	"github.com/spf13/cobra"
)

const accountWait = 5 * time.Second

func newAccountCommand(r *root) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Show the balance and slot of the current address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, closeApp, err := r.openApp(ctx, openOptions{})
			if err != nil {
				return err
			}
			defer closeApp()

			d, err := waitAccount(ctx, a.Watcher, accountWait)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printAccount(out, a.Session.Cluster(), d)
			if !watch {
				return nil
			}

			updates := make(chan account.Data, 16)
			unsub := a.Watcher.Subscribe(func(d account.Data) {
				select {
				case updates <- d:
				default:
				}
			})
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return nil
				case d := <-updates:
					fmt.Fprintf(out, "slot %d  balance %s SOL\n", d.Slot, d.BalanceString())
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep printing updates until interrupted")
	return cmd
}

func printAccount(w io.Writer, c cluster.Info, d account.Data) {
	fmt.Fprintf(w, "Address:  %s\n", d.Address)
	fmt.Fprintf(w, "Cluster:  %s (%s)\n", c.DisplayName, c.Endpoint)
	fmt.Fprintf(w, "Balance:  %s SOL\n", d.BalanceString())
	fmt.Fprintf(w, "Slot:     %d\n", d.Slot)
	fmt.Fprintf(w, "Explorer: %s\n", c.ExplorerURL("account/"+d.Address.String()))
}

func newClusterCommand(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "cluster [NAME]",
		Short: "Show the clusters or select the one to use",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := prefs.OpenBolt(r.cfg.StateDBPath())
			if err != nil {
				return err
			}
			defer store.Close()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				info, ok := r.registry.Lookup(args[0])
				if !ok {
					return fmt.Errorf("unknown cluster %q, expected one of %v", args[0], r.registry.Names())
				}
				if err := store.SetClusterName(info.Name); err != nil {
					return err
				}
				fmt.Fprintf(out, "Selected %s (%s)\n", info.DisplayName, info.Endpoint)
				return nil
			}

			name := r.cfg.Cluster
			if name == "" {
				if name, err = store.ClusterName(); err != nil {
					return err
				}
			}
			active := r.registry.Resolve(name)
			for _, c := range r.registry.All() {
				marker := " "
				if c.Name == active.Name {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %-10s %-10s %s\n", marker, c.Name, c.DisplayName, c.Endpoint)
			}
			return nil
		},
	}
}

func newAddressCommand(r *root) *cobra.Command {
	var author string
	cmd := &cobra.Command{
		Use:   "address NAME",
		Short: "Print the account address of a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pk solana.PublicKey
			if author != "" {
				var err error
				if pk, err = wallet.ParseAddress(author); err != nil {
					return err
				}
			} else {
				w, err := r.loadWallet()
				if err != nil {
					return err
				}
				if w == nil {
					return errNoAddress
				}
				pk = w.PublicKey()
			}

			addr, err := program.FindNoteAddress(program.ProgramID, pk, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), addr)
			return nil
		},
	}
	cmd.Flags().StringVar(&author, "author", "", "author of the note (default: the keypair's address)")
	return cmd
}
