package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"stackbuild/internal/source"
)

func (app *App) newMirror(ctx context.Context) (*source.Mirror, error) {
	m := app.cfg.Mirror
	return source.NewMirror(ctx, source.MirrorSettings{
		Bucket:          m.Bucket,
		Endpoint:        m.Endpoint,
		Region:          m.Region,
		AccessKeyID:     m.AccessKeyID,
		SecretAccessKey: m.SecretAccessKey,
		Debug:           app.cfg.Debug,
	})
}

// mirrorUploader reuses the mirror the acquirer downloads from.
func mirrorUploader(acq *source.Acquirer) (source.Uploader, error) {
	up, ok := acq.Mirror.(source.Uploader)
	if !ok {
		return nil, errors.New("configured mirror does not accept uploads")
	}
	return up, nil
}

func newMirrorCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Manage the S3 source mirror",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "push",
		Short: "Upload verified cached archives the mirror does not have",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !app.cfg.Mirror.Enabled() {
				return errors.New("no mirror configured (set STACKBUILD_MIRROR_BUCKET)")
			}
			_, acq, err := app.newOrchestrator(cmd.Context())
			if err != nil {
				return err
			}
			var archives []source.Archive
			for _, p := range app.registry.All() {
				switch a := p.Source.(type) {
				case source.Archive:
					archives = append(archives, a)
				case *source.Archive:
					archives = append(archives, *a)
				}
			}
			up, err := mirrorUploader(acq)
			if err != nil {
				return err
			}
			pushed, err := acq.Push(cmd.Context(), up, archives)
			for _, key := range pushed {
				app.printer.Info("uploaded %s", key)
			}
			if err != nil {
				return err
			}
			app.printer.Step("%d archive(s) uploaded to %s", len(pushed), app.cfg.Mirror.Bucket)
			return nil
		},
	})
	return cmd
}
