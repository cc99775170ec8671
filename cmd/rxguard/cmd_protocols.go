package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drfirst/go-rxguard/internal/evaluation"
	"github.com/drfirst/go-rxguard/internal/protocol"
)

func newProtocolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "protocols",
		Short: "Work with protocol definitions",
	}
	cmd.AddCommand(newProtocolsValidateCmd())
	return cmd
}

// newProtocolsValidateCmd compiles every definition in a file
func newProtocolsValidateCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Compile protocol definitions and report configuration errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := protocol.LoadFile(path)
			if err != nil {
				return err
			}
			compiled, problems := evaluation.Compile(defs)

			out := cmd.OutOrStdout()
			if jsonOutput {
				if problems == nil {
					problems = []evaluation.ProtocolError{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(problems); err != nil {
					return err
				}
			} else {
				for _, p := range compiled {
					fmt.Fprintf(out, "ok      %d %s\n", p.ID, p.Name)
				}
				for _, p := range problems {
					fmt.Fprintf(out, "invalid %d %s: %s (%s)\n", p.ProtocolID, p.Name, p.Message, p.Reason)
				}
			}

			if len(problems) > 0 {
				return fmt.Errorf("%d of %d protocols are invalid", len(problems), len(defs))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "protocol definitions YAML or JSON file")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	cmd.MarkFlagRequired("file")
	return cmd
}
