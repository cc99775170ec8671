package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxguard/internal/evaluation"
	"github.com/drfirst/go-rxguard/internal/observability/logging"
	"github.com/drfirst/go-rxguard/internal/protocol"
)

// newEvaluateCmd creates the evaluate subcommand
func newEvaluateCmd() *cobra.Command {
	var (
		requestPath  string
		protocolPath string
		fasting      []string
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate one prescription request file",
		Long: `Evaluate reads an evaluation request as JSON and prints the response.
Protocols are evaluated only when --protocols is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(requestPath)
			if err != nil {
				return fmt.Errorf("read request: %w", err)
			}
			var req evaluation.Request
			if err := json.Unmarshal(data, &req); err != nil {
				return fmt.Errorf("decode request: %w", err)
			}

			var source evaluation.ProtocolSource
			if protocolPath != "" {
				src, err := protocol.NewFileSource(protocolPath)
				if err != nil {
					return err
				}
				source = src
			}

			logger := zap.NewNop()
			if debug {
				if logger, err = logging.New("debug", "rxguard"); err != nil {
					return err
				}
			}

			svc := evaluation.NewService(source, evaluation.Config{FastingIntervals: fasting}, nil, logger)
			resp, err := svc.Evaluate(cmd.Context(), &req)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
	cmd.Flags().StringVarP(&requestPath, "request", "r", "", "evaluation request JSON file")
	cmd.Flags().StringVarP(&protocolPath, "protocols", "p", "", "protocol definitions YAML or JSON file")
	cmd.Flags().StringSliceVar(&fasting, "fasting", nil, "interval codes that mark fasting administration")
	cmd.MarkFlagRequired("request")
	return cmd
}
