package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/feichai0017/pdf-alttext/internal/app"
	"github.com/feichai0017/pdf-alttext/internal/service/pipeline"
)

func newRunCmd(opts *options) *cobra.Command {
	var (
		lang        string
		extractOnly bool
	)

	cmd := &cobra.Command{
		Use:   "run <file.pdf>",
		Short: "Run both pipeline stages for one PDF",
		Example: `  # Extract images and write Spanish alt text
  pdf-alttext run report.pdf --lang es

  # Only extract images
  pdf-alttext run report.pdf --extract-only`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}

			a, err := app.New(ctx, opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := a.Service.CreateSession(ctx, filepath.Base(args[0]), info.Size(), f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session %s\n", sess.ID)

			if err := a.Service.HandleExtraction(ctx, sess.ID); err != nil {
				return fmt.Errorf("extraction failed: %w", err)
			}
			images, err := a.Service.ListImages(sess.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "extracted %d images into %s\n", len(images), a.Sessions.Paths(sess.ID).Extracted)

			if extractOnly || len(images) == 0 {
				return nil
			}

			if err := a.Service.HandleAltText(ctx, sess.ID, images, lang); err != nil {
				return fmt.Errorf("alt text generation failed: %w", err)
			}
			for _, kind := range []pipeline.ArtifactKind{pipeline.ArtifactDocument, pipeline.ArtifactResults, pipeline.ArtifactPanel} {
				p, err := a.Service.Artifact(ctx, sess.ID, lang, kind)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %s\n", kind, p)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&lang, "lang", "l", "en", "alt text language")
	cmd.Flags().BoolVar(&extractOnly, "extract-only", false, "stop after image extraction")

	return cmd
}
