package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"charted-server/pkg/digest"
)

// digestCmd はコンテンツダイジェストの計算と検証を行うコマンド。
func digestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Compute or verify OCI content digests",
	}
	cmd.AddCommand(digestComputeCmd())
	cmd.AddCommand(digestVerifyCmd())
	return cmd
}

// openInput はファイルを開く。"-"の場合は標準入力を使う。
func openInput(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return f, nil
}

func digestComputeCmd() *cobra.Command {
	var algorithm string
	cmd := &cobra.Command{
		Use:   "compute FILE",
		Short: "Compute the digest of FILE (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openInput(cmd, args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			d, err := digest.FromReader(algorithm, r)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), d.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&algorithm, "algorithm", "sha256", "Digest algorithm: sha256, sha384, sha512")
	return cmd
}

func digestVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify FILE DIGEST",
		Short: "Verify that FILE (- for stdin) matches DIGEST",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := digest.Parse(args[1])
			if err != nil {
				return err
			}
			r, err := openInput(cmd, args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			if err := d.Verify(r); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK %s\n", d.Canonical())
			return nil
		},
	}
}
