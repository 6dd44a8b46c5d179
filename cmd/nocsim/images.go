package main

import (
	"fmt"

	"github.com/sarchlab/nocsim/imagestore"
	"github.com/spf13/cobra"
)

var imageDB string

var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "List and delete the stored memory images.",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return applyEnv(cmd)
	},
}

var imagesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the stored memory images.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := imagestore.Open(imageDB)
		if err != nil {
			return err
		}
		defer store.Close()

		names, err := store.List()
		if err != nil {
			return err
		}

		for _, name := range names {
			meta, err := store.Stat(name)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d units\t%x\t%s\n",
				name, meta.Units, meta.Checksum[:8],
				meta.SavedAt.Format("2006-01-02 15:04:05"))
		}

		return nil
	},
}

var imagesDeleteCmd = &cobra.Command{
	Use:   "delete NAME...",
	Short: "Delete memory images.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		store, err := imagestore.Open(imageDB)
		if err != nil {
			return err
		}
		defer store.Close()

		for _, name := range args {
			if err := store.Delete(name); err != nil {
				return err
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(imagesCmd)
	imagesCmd.AddCommand(imagesListCmd)
	imagesCmd.AddCommand(imagesDeleteCmd)

	imagesCmd.PersistentFlags().StringVar(&imageDB, "image-db",
		"nocsim_images.db", "Database of memory images")
}
