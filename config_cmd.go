package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kuhnst-akros-ch/whatsapp-backup-chat-viewer/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, cc.Cfg)
	}

	return config.RenderEffective(cc.Cfg, cc.CfgPath, cc.Stdout)
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Long: `Write a commented config file to the path given by --config, MONITOR_CONFIG,
or the platform default. An existing file is never overwritten.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runConfigInit,
	}

	cmd.Flags().String("output-dir", "", "root of the export output (required)")
	_ = cmd.MarkFlagRequired("output-dir")

	return cmd
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.CfgPath == "" {
		return fmt.Errorf("cannot determine config path; pass --config")
	}

	if cc.Flags.WatchDir == "" {
		return fmt.Errorf("--watch-dir is required")
	}

	watchDir, err := filepath.Abs(cc.Flags.WatchDir)
	if err != nil {
		return fmt.Errorf("resolving --watch-dir: %w", err)
	}

	rawOutput, _ := cmd.Flags().GetString("output-dir")

	outputDir, err := filepath.Abs(rawOutput)
	if err != nil {
		return fmt.Errorf("resolving --output-dir: %w", err)
	}

	if err := config.WriteTemplate(cc.CfgPath, watchDir, outputDir, cc.Logger); err != nil {
		return err
	}

	cc.Statusf("Wrote %s\n", cc.CfgPath)

	return nil
}
