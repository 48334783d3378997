package main

import (
	"errors"
	"os"

	goversion "github.com/caarlos0/go-version"
	"github.com/caarlos0/log"
	"github.com/spf13/cobra"
	"github.com/winpriv/tisudo/cmd/run"
	versionCmd "github.com/winpriv/tisudo/cmd/version"
	"github.com/winpriv/tisudo/internal"
)

const website = "https://github.com/winpriv/tisudo"

var (
	version = ""
	builtBy = ""
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "tisudo",
		Short:         "run a command under the TrustedInstaller identity",
		Long:          ``,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(run.NewCommand())
	rootCmd.AddCommand(versionCmd.NewCommand(buildVersion(version, builtBy)))

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, internal.ErrSilence) {
			log.WithError(err).Error("command failed")
		}
		os.Exit(1)
	}
}

func buildVersion(version, builtBy string) goversion.Info {
	return goversion.GetVersionInfo(
		goversion.WithAppDetails("tisudo", "Run programs with the highest privilege on the machine.", website),
		func(i *goversion.Info) {
			if version != "" {
				i.GitVersion = version
			}
			if builtBy != "" {
				i.BuiltBy = builtBy
			}
		},
	)
}
