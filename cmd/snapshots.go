package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Eavina-s-org/webmock/internal/exchange"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List stored snapshots",
	Args:    cobra.NoArgs,
	Aliases: []string{"ls"},
	RunE: func(cmd *cobra.Command, args []string) error {
		metas, err := st.List()
		if err != nil {
			return err
		}
		if len(metas) == 0 {
			out.Infof("no snapshots in %s", st.Dir())
			return nil
		}
		for _, meta := range metas {
			out.Snapshot(meta.Name, meta.URL, meta.CreatedAt, meta.ExchangeCount)
		}
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <name>",
	Short: "Show the exchanges recorded in a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := st.Get(args[0])
		if err != nil {
			out.Failf("cannot load snapshot %q: %v", args[0], err)
			return err
		}
		out.Infof("%s  captured %s  from %s", snap.Name, snap.CreatedAt.Local().Format("2006-01-02 15:04:05"), snap.URL)
		for _, ex := range snap.Exchanges {
			ct := exchange.HeaderValue(ex.ResponseHeaders, "Content-Type")
			out.Infof("%4d  %-7s %3d  %8dB  %-24s %s", ex.SequenceIndex, ex.Method, ex.StatusCode, len(ex.ResponseBody), ct, ex.URL)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <name>",
	Short:   "Delete a stored snapshot",
	Args:    cobra.ExactArgs(1),
	Aliases: []string{"rm"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := st.Delete(args[0]); err != nil {
			out.Failf("%v", err)
			return err
		}
		out.Okf("deleted snapshot %q", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd, inspectCmd, deleteCmd)
}
