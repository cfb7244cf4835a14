package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ssrelay/internal/signature"
)

func newSignCmd() *cobra.Command {
	var (
		secret   string
		bodyPath string
		ts       int64
	)
	cmd := &cobra.Command{
		Use:     "sign",
		Short:   "Print the authentication headers for a request body",
		Example: "  ssrelay sign --body req.json\n  echo '{}' | SSR_SECRET=s3cret ssrelay sign --body -",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("SSR_SECRET")
			}
			if secret == "" {
				return errors.New("secret is required (--secret or SSR_SECRET)")
			}
			body, err := readBodyArg(cmd.InOrStdin(), bodyPath)
			if err != nil {
				return err
			}
			if ts == 0 {
				ts = time.Now().Unix()
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d\n", signature.HeaderTimestamp, ts)
			_, err = fmt.Fprintf(out, "%s: %s\n", signature.HeaderSignature, signature.Sign(secret, ts, body))
			return err
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "Shared secret (defaults to SSR_SECRET)")
	cmd.Flags().StringVar(&bodyPath, "body", "-", "Request body file, or - for stdin")
	cmd.Flags().Int64Var(&ts, "timestamp", 0, "Unix timestamp to sign (defaults to now)")
	return cmd
}

func readBodyArg(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return b, nil
}
