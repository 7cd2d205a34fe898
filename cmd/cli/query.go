package cli

import (
	"fmt"

	"github.com/canopy-network/routing/lib"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "query the rpc of a running node",
}

var (
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "query the state of the node",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Status())
		},
	}

	sectionCmd = &cobra.Command{
		Use:   "section",
		Short: "query the section of the node with its proof",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Section())
		},
	}

	chainCmd = &cobra.Command{
		Use:   "chain",
		Short: "query the retained section chain",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Chain())
		},
	}

	neighboursCmd = &cobra.Command{
		Use:   "neighbours",
		Short: "query the sections the node knows about",
		Run: func(cmd *cobra.Command, args []string) {
			writeToConsole(client.Neighbours())
		},
	}
)

func init() {
	queryCmd.AddCommand(statusCmd)
	queryCmd.AddCommand(sectionCmd)
	queryCmd.AddCommand(chainCmd)
	queryCmd.AddCommand(neighboursCmd)
}

func writeToConsole(a any, err error) {
	if err != nil {
		l.Fatal(err.Error())
	}
	s, e := lib.MarshalJSONIndentString(a)
	if e != nil {
		l.Fatal(e.Error())
	}
	fmt.Println(s)
}
