package run

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/log"
	"github.com/spf13/cobra"
	"github.com/winpriv/tisudo/internal"
	"github.com/winpriv/tisudo/internal/appenv"
	"github.com/winpriv/tisudo/internal/escalate"
	"github.com/winpriv/tisudo/internal/logutil"
	"github.com/winpriv/tisudo/internal/privilege"
)

type options struct {
	workDir  string
	priority string
	hidden   bool
	verbose  bool
}

func NewCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "run [flags] -- <command line>",
		Short: "run a command line under the TrustedInstaller identity",
		Long: `Launch a process running as the TrustedInstaller service, attached to
your interactive desktop with a SYSTEM integrity level.

Requires administrator rights; when started without them, a UAC prompt
re-executes the tool elevated.

Exit codes:
  0 - process launched
  n - the Windows status code of the failing security primitive`,
		Example: `  # Start a SYSTEM-integrity command shell
  tisudo run cmd.exe

  # Use an environment reference and a working directory
  tisudo run -d C:\ "%windir%\System32\cmd.exe" /k whoami

  # Launch with normal scheduling priority, window hidden
  tisudo run --priority normal --hidden regedit.exe`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(strings.Join(args, " "), opts)
		},
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().StringVarP(&opts.workDir, "chdir", "d", "", "working directory for the new process (default: the tisudo directory)")
	cmd.Flags().StringVar(&opts.priority, "priority", "abovenormal", "scheduling priority class: idle, belownormal, normal, abovenormal, high, realtime")
	cmd.Flags().BoolVar(&opts.hidden, "hidden", false, "start the process with a hidden window")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")

	return cmd
}

func run(commandLine string, opts *options) error {
	logger := log.New(os.Stdout)
	if opts.verbose {
		logger.Level = log.DebugLevel
	}

	priority, err := escalate.ParsePriority(opts.priority)
	if err != nil {
		return fmt.Errorf("%w: %q", escalate.ErrUnknownPriority, opts.priority)
	}

	if err := privilege.Elevate(); err != nil {
		return fmt.Errorf("failed to elevate privileges: %w", err)
	}

	workDir := opts.workDir
	if workDir == "" {
		paths, err := appenv.Resolve()
		if err != nil {
			return err
		}
		workDir = paths.AppDir
	}

	start := time.Now()
	logger.Info("Launching process with the TrustedInstaller identity")
	err = escalate.New(escalate.Config{Logger: logger}).Run(escalate.Request{
		CommandLine: commandLine,
		WorkDir:     workDir,
		Priority:    priority,
		Hidden:      opts.hidden,
	})
	if err != nil {
		logger.WithError(err).Error("launch failed")
		// Surface the Windows status code of the failing primitive.
		if code := escalate.ExitCode(err); code != 1 {
			os.Exit(code)
		}
		return internal.ErrSilence
	}
	logutil.LogDuration(logger, start)

	return nil
}
