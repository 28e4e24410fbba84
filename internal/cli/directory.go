package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"castbot/internal/config"
	"castbot/internal/directory"
	logx "castbot/pkg/logx"
)

func newDirectoryCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "directory",
		Short: "Manage recipient lists in the configured directory",
	}
	cmd.AddCommand(newDirectoryImportCmd(opts), newDirectoryShowCmd(opts))
	return cmd
}

func openDirectory(cmd *cobra.Command, opts *options) (directory.Directory, error) {
	cfg, err := config.NewConfigManager(opts.cfgPath).Load()
	if err != nil {
		return nil, err
	}
	dc, err := cfg.DirectorySettings()
	if err != nil {
		return nil, err
	}
	dir, err := directory.Open(dc, logx.NewWriter(cmd.ErrOrStderr(), cfg.Logging.Level))
	if err != nil {
		return nil, err
	}
	if dir == nil {
		return nil, directory.ErrDisabled
	}
	return dir, nil
}

func newDirectoryImportCmd(opts *options) *cobra.Command {
	var key, file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Append recipient ids (one per line) to a list; existing ids are kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := openDirectory(cmd, opts)
			if err != nil {
				return err
			}
			defer dir.Close()

			imp, ok := dir.(directory.Importer)
			if !ok {
				return errors.New("configured directory driver is read-only")
			}

			var r io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			ids, err := readIDs(r)
			if err != nil {
				return err
			}
			if err := imp.Add(cmd.Context(), key, ids...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d ids into %q\n", len(ids), key)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "list key (directory_key in requests)")
	cmd.Flags().StringVar(&file, "file", "-", "file with one id per line (\"-\" reads stdin)")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func newDirectoryShowCmd(opts *options) *cobra.Command {
	var key string
	var page int
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print one page of a list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := openDirectory(cmd, opts)
			if err != nil {
				return err
			}
			defer dir.Close()

			p, err := dir.FetchPage(cmd.Context(), key, page)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "page %d/%d, %d users\n", page, p.TotalPages, p.TotalUsers)
			for _, id := range p.IDs {
				fmt.Fprintln(out, id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "list key")
	cmd.Flags().IntVar(&page, "page", 1, "1-based page number")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

// readIDs reads one id per line; blank lines and #-comments are skipped.
func readIDs(r io.Reader) ([]string, error) {
	var ids []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	return ids, sc.Err()
}
