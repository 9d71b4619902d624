package main

import (
	"fmt"
	"github.com/davejbax/go-isofs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"os"
)

// config is the layout of the file given with --config
type config struct {
	Image         iso9660.Options `yaml:"image"`
	PreserveModes bool            `yaml:"preserve_modes"`
	Boot          []bootConfig    `yaml:"boot"`
}

type bootConfig struct {
	// Path is the primary namespace path of the boot image, e.g. '/BOOT/ISOLINUX.BIN;1'
	Path string `yaml:"path"`

	iso9660.ElToritoOptions `yaml:",inline"`
}

func readConfig(path string) (*config, error) {
	cfg := &config{}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config '%s': %w", path, err)
	}

	return cfg, nil
}

func createCmd() *cobra.Command {
	var (
		configPath    string
		output        string
		level         int
		rockRidge     string
		joliet        bool
		volumeID      string
		preserveModes bool
		bootPath      string
		bootMedia     string
		bootInfoTable bool
	)

	cmd := &cobra.Command{
		Use:   "create [flags] DIRECTORY",
		Short: "Create an image from the contents of a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfig(configPath)
			if err != nil {
				return err
			}

			// Flags override the config file; without one, their defaults apply
			flags := cmd.Flags()
			set := func(name string) bool {
				return configPath == "" || flags.Changed(name)
			}

			if set("level") {
				cfg.Image.InterchangeLevel = level
			}
			if set("rock-ridge") {
				cfg.Image.RockRidge = rockRidge
			}
			if set("joliet") {
				cfg.Image.Joliet = joliet
			}
			if set("volume-id") {
				cfg.Image.VolumeIdentifier = volumeID
			}
			if set("preserve-modes") {
				cfg.PreserveModes = preserveModes
			}
			if bootPath != "" {
				cfg.Boot = append(cfg.Boot, bootConfig{
					Path:            bootPath,
					ElToritoOptions: iso9660.ElToritoOptions{Media: bootMedia, BootInfoTable: bootInfoTable},
				})
			}

			cfg.Image.Logger = logrus.StandardLogger()

			return create(args[0], output, cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "YAML file with image options; flags override it")
	cmd.Flags().StringVarP(&output, "output", "o", "mkiso.iso", "Output file name/path")
	cmd.Flags().IntVar(&level, "level", 3, "Interchange level, 1 to 4")
	cmd.Flags().StringVar(&rockRidge, "rock-ridge", "1.09", "Rock Ridge version to record, or empty for none")
	cmd.Flags().BoolVar(&joliet, "joliet", true, "Record a Joliet namespace")
	cmd.Flags().StringVar(&volumeID, "volume-id", "", "Volume identifier")
	cmd.Flags().BoolVar(&preserveModes, "preserve-modes", false, "Record source permissions as Rock Ridge modes")
	cmd.Flags().StringVar(&bootPath, "boot", "", "ISO9660 path of an El Torito boot image within the image")
	cmd.Flags().StringVar(&bootMedia, "boot-media", "noemul", "Emulation type of the boot image")
	cmd.Flags().BoolVar(&bootInfoTable, "boot-info-table", false, "Patch a boot info table into the boot image")

	return cmd
}

func create(dir, output string, cfg *config) error {
	image, err := iso9660.NewImage(cfg.Image)
	if err != nil {
		return fmt.Errorf("failed to create image: %w", err)
	}
	defer image.Close()

	if err := image.AddFS(os.DirFS(dir), iso9660.FSOptions{PreserveModes: cfg.PreserveModes}); err != nil {
		return fmt.Errorf("failed to add '%s': %w", dir, err)
	}

	for _, boot := range cfg.Boot {
		if err := image.AddElTorito(boot.Path, boot.ElToritoOptions); err != nil {
			return fmt.Errorf("failed to add boot image '%s': %w", boot.Path, err)
		}
	}

	outputFile, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open output file: %w", err)
	}
	defer outputFile.Close()

	written, err := image.WriteTo(outputFile)
	if err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"output": output,
		"bytes":  written,
	}).Info("Wrote image")

	return outputFile.Close()
}
