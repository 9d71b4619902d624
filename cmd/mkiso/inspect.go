package main

import (
	"fmt"
	"github.com/davejbax/go-isofs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"io"
	"os"
	"text/tabwriter"
)

// namespaceFlags pick the namespace that paths given on the command line are looked up in
type namespaceFlags struct {
	joliet    bool
	rockRidge bool
}

func (n *namespaceFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&n.joliet, "joliet", false, "Look paths up in the Joliet namespace")
	cmd.Flags().BoolVar(&n.rockRidge, "rock-ridge", false, "Look paths up by Rock Ridge names")
	cmd.MarkFlagsMutuallyExclusive("joliet", "rock-ridge")
}

func (n *namespaceFlags) selector(path string) iso9660.Selector {
	switch {
	case n.joliet:
		return iso9660.Joliet(path)
	case n.rockRidge:
		return iso9660.RockRidge(path)
	default:
		return iso9660.Primary(path)
	}
}

// openImage opens an image file. The returned function closes both the image and the file.
func openImage(path string) (*iso9660.Image, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open image: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to stat image: %w", err)
	}

	image, err := iso9660.OpenImage(f, stat.Size(), iso9660.WithLogger(logrus.StandardLogger()))
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to read image '%s': %w", path, err)
	}

	return image, func() {
		_ = image.Close()
		_ = f.Close()
	}, nil
}

func lsCmd() *cobra.Command {
	var ns namespaceFlags

	cmd := &cobra.Command{
		Use:   "ls [flags] IMAGE [PATH]",
		Short: "List the entries of a directory of an image",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, closeImage, err := openImage(args[0])
			if err != nil {
				return err
			}
			defer closeImage()

			dir := "/"
			if len(args) > 1 {
				dir = args[1]
			}

			entries, err := image.ReadDir(ns.selector(dir))
			if err != nil {
				return fmt.Errorf("failed to list '%s': %w", dir, err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, entry := range entries {
				kind := "-"
				switch {
				case entry.IsDir:
					kind = "d"
				case entry.IsSymlink:
					kind = "l"
				}

				name := entry.Name
				if entry.RockRidge != nil && entry.RockRidge.Name != "" {
					name = fmt.Sprintf("%s (%s)", entry.Name, entry.RockRidge.Name)
				}
				if entry.IsSymlink {
					name += " -> " + entry.RockRidge.Target
				}

				fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", kind, entry.Extent, entry.Size, entry.Recorded.Format("2006-01-02 15:04:05"), name)
			}

			return w.Flush()
		},
	}

	ns.register(cmd)

	return cmd
}

func catCmd() *cobra.Command {
	var ns namespaceFlags

	cmd := &cobra.Command{
		Use:   "cat [flags] IMAGE PATH",
		Short: "Write the contents of a file of an image to standard output",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, closeImage, err := openImage(args[0])
			if err != nil {
				return err
			}
			defer closeImage()

			r, err := image.FileReader(ns.selector(args[1]))
			if err != nil {
				return fmt.Errorf("failed to open '%s': %w", args[1], err)
			}
			defer r.Close()

			if _, err := io.Copy(cmd.OutOrStdout(), r); err != nil {
				return fmt.Errorf("failed to read '%s': %w", args[1], err)
			}

			return nil
		},
	}

	ns.register(cmd)

	return cmd
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info IMAGE",
		Short: "Describe the options and boot entries of an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, closeImage, err := openImage(args[0])
			if err != nil {
				return err
			}
			defer closeImage()

			info, err := image.Info()
			if err != nil {
				return err
			}

			encoder := yaml.NewEncoder(cmd.OutOrStdout())
			defer encoder.Close()

			return encoder.Encode(info)
		},
	}
}
