package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"

	"github.com/gophertribe/devtool/build"
	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

func TestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run unit tests, including the simulator backed flash tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := test.Test()
			if err != nil {
				return fmt.Errorf("failed to run tests: %w", err)
			}
			return nil
		},
	}
	return cmd
}

func LintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Run linting",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := test.Lint()
			if err != nil {
				return fmt.Errorf("failed to run linting: %w", err)
			}
			return nil
		},
	}
	return cmd
}

func IntegrationTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integration-test",
		Short: "Run integration tests against real hardware",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := test.Integ()
			if err != nil {
				return fmt.Errorf("failed to run integration testing: %w", err)
			}
			return nil
		},
	}
	return cmd
}

// SmokeCmd builds the cli and runs a sweep against the simulated controller.
func SmokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Build the cli and run an erase/program/verify sweep on the simulator",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := build.GoBuild(binary, mainPkg, build.GoBuildOpts{
				Version:       "smoke",
				InjectVersion: true,
				ConfigPackage: configPkg,
				Arch:          runtime.GOARCH,
				OS:            runtime.GOOS,
			})
			if err != nil {
				return fmt.Errorf("failed to build cli: %w", err)
			}
			sectors := cmd.Flag("sectors").Value.String()
			pages := cmd.Flag("pages").Value.String()
			run := exec.CommandContext(cmd.Context(), binary, "--transport", "sim", "sweep", "--sectors", sectors, "--pages", pages)
			run.Stdout = os.Stdout
			run.Stderr = os.Stderr
			slog.Info("running sweep", "sectors", sectors, "pages", pages)
			if err := run.Run(); err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().Int("sectors", 70, "sectors to erase")
	cmd.Flags().Int("pages", 1024, "pages to program and verify")
	return cmd
}
