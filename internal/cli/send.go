package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"castbot/internal/app"
	"castbot/internal/broadcast"
	"castbot/internal/config"
	logx "castbot/pkg/logx"
)

func newSendCmd(opts *options) *cobra.Command {
	var reqPath string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Run one broadcast from a JSON request file and print the summary",
		Long: `send runs a single broadcast in the foreground. The request file uses the
same fields as the HTTP trigger; bot_token defaults to telegram.token.

Exit status is 2 when the request is rejected and 1 when the run aborts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfigManager(opts.cfgPath).Load()
			if err != nil {
				return err
			}
			req, err := readRequest(reqPath)
			if err != nil {
				return err
			}
			if req.Token == "" {
				req.Token = strings.TrimSpace(cfg.Telegram.Token)
			}
			req.Origin = "cli"

			log := logx.NewWriter(cmd.ErrOrStderr(), cfg.Logging.Level)
			eng, err := app.BuildEngine(cfg, log)
			if err != nil {
				return err
			}
			defer eng.Close()

			ctx := cmd.Context()
			if d := cfg.RunTimeout(); d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}
			res, runErr := eng.Run(ctx, req)
			if res != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				_ = enc.Encode(res)
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&reqPath, "request", "", "path to a JSON broadcast request (\"-\" reads stdin)")
	_ = cmd.MarkFlagRequired("request")
	return cmd
}

func readRequest(path string) (broadcast.Request, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return broadcast.Request{}, err
	}
	var p broadcast.Params
	if err := json.Unmarshal(raw, &p); err != nil {
		if broadcast.IsValidation(err) {
			return broadcast.Request{}, err
		}
		return broadcast.Request{}, &broadcast.ValidationError{Message: fmt.Sprintf("invalid request file: %v", err)}
	}
	return p.Request()
}
