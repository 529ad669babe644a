package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/lazyreveal/htmldoc"
	"github.com/hazyhaar/lazyreveal/lazyreveal"
)

func planCmd() *cobra.Command {
	var job lazyreveal.JobConfig
	var payloads []string
	cmd := &cobra.Command{
		Use:   "plan [file.html|-]",
		Short: "Show which path each matched element of a static page would receive",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			doc, err := htmldoc.Parse(in)
			if err != nil {
				return err
			}

			if len(payloads) > 0 {
				if job.Kind == "video" {
					job.Videos = payloads
				} else {
					job.Images = payloads
				}
			}
			plan, err := lazyreveal.PlanDocument(doc, job)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(plan)
		},
	}
	cmd.Flags().StringVarP(&job.Selector, "selector", "s", "", "CSS selector of the elements to reveal")
	cmd.Flags().StringVarP(&job.Kind, "kind", "k", "image", "image or video")
	cmd.Flags().StringSliceVarP(&payloads, "paths", "p", nil, "explicit paths, by match index")
	cmd.MarkFlagRequired("selector")
	return cmd
}
