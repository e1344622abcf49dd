package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mkoffload/internal/buildpipeline"
	"mkoffload/internal/diag"
	"mkoffload/internal/version"
)

// The root command takes GCC-style arguments verbatim: cobra flag parsing
// would reject -fopenmp, -foffload-abi=lp64 and friends.
var rootCmd = &cobra.Command{
	Use:   "mkoffload [gcc options] -foffload-abi={lp64|ilp32} -o OUTPUT [objects...]",
	Short: "Offload compiler driver for the Ventus RISC-V GPGPU",
	Long: `mkoffload is invoked by the host GCC driver. It compiles the LTO stream
for the device with the RISC-V toolchain, turns the host objects' early debug
information into debug carriers and links them into the offload object.`,
	Args:               cobra.ArbitraryArgs,
	DisableFlagParsing: true,
	SilenceUsage:       true,
	SilenceErrors:      true,
	RunE:               runDriver,
}

func main() {
	rootCmd.Version = version.Version
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(recordCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		diag.New(os.Stderr, version.ToolName, diag.ColorAuto).Fatal(err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit status: the failing child's
// own status when there is one, otherwise 1.
func exitCode(err error) int {
	var f *buildpipeline.Failure
	if errors.As(err, &f) {
		return f.Code()
	}
	return 1
}
