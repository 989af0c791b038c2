// File: cmd/watch.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/erpfill/internal/observability"
)

func newWatchCmd() *cobra.Command {
	var fromStart bool

	watchCmd := &cobra.Command{
		Use:   "watch [logfile]",
		Short: "Follow the newest run log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else if path, err = observability.LatestRunLog(cfg.Output.LogsPath()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Following %s\n", path)
			return follow(ctx, path, fromStart, cmd.OutOrStdout())
		},
	}
	watchCmd.Flags().BoolVar(&fromStart, "from-start", false, "print the whole file before following")
	return watchCmd
}

// follow copies new lines of path to out until ctx is done.
func follow(ctx context.Context, path string, fromStart bool, out io.Writer) error {
	whence := io.SeekEnd
	if fromStart {
		whence = io.SeekStart
	}
	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    false,
		MustExist: true,
		Location:  &tail.SeekInfo{Offset: 0, Whence: whence},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to tail %s: %w", path, err)
	}
	defer func() {
		_ = t.Stop()
		t.Cleanup()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				observability.GetLogger().Warn("Error reading run log.", zap.Error(line.Err))
				continue
			}
			if _, err := fmt.Fprintln(out, line.Text); err != nil {
				return err
			}
		}
	}
}
