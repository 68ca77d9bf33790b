package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newImagesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Browse machine images",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List machine images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(cmd, nil); err != nil {
				return err
			}

			client, err := a.client()
			if err != nil {
				return err
			}
			images, err := client.ListImages(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(a.stdout, images)
			}
			return a.printImages(images)
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "Output JSON")

	cmd.AddCommand(list)
	return cmd
}

type imageRow struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Family       string `json:"family"`
	Architecture string `json:"architecture"`
	Region       struct {
		Name string `json:"name"`
	} `json:"region"`
}

func (a *app) printImages(images []json.RawMessage) error {
	if len(images) == 0 {
		fmt.Fprintln(a.stdout, "No images found.")
		return nil
	}

	w := newTable(a.stdout)
	fmt.Fprintln(w, "ID\tNAME\tFAMILY\tARCH\tREGION")
	for _, raw := range images {
		var row imageRow
		// Records with unexpected field types still get a row.
		_ = json.Unmarshal(raw, &row)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			orDash(row.ID), orDash(row.Name), orDash(row.Family), orDash(row.Architecture), orDash(row.Region.Name))
	}
	return w.Flush()
}
