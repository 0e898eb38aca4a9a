package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type captureSummary struct {
	CaptureID string `json:"captureId"`
	Filename  string `json:"filename"`
	Filesize  int    `json:"filesize"`
	SHA256    string `json:"sha256"`
	Output    string `json:"output,omitempty"`
	Uploaded  bool   `json:"uploaded"`
	ViewURL   string `json:"viewURL,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func newCaptureCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "capture <url>",
		Short: "Captures one PDF and writes it to disk",
		Long: `Runs a single capture through the same pipeline as the HTTP API and
writes the file to --out (defaults to the resolved filename). A JSON summary is
printed to stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, appInstance App) error {
			res, err := appInstance.Downloader().Download(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("capture %s: %w", args[0], err)
			}

			path := out
			if path == "" {
				path = res.Filename
			}
			if path != "-" {
				if err := os.WriteFile(path, res.Content, 0o600); err != nil {
					return fmt.Errorf("write %s: %w", path, err)
				}
				appInstance.Logger().Info("capture written", zap.String("path", path), zap.Int("bytes", res.Size()))
			} else {
				if _, err := cmd.OutOrStdout().Write(res.Content); err != nil {
					return fmt.Errorf("write stdout: %w", err)
				}
				return nil
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(captureSummary{
				CaptureID: res.CaptureID,
				Filename:  res.Filename,
				Filesize:  res.Size(),
				SHA256:    res.SHA256,
				Output:    path,
				Uploaded:  res.Storage.Uploaded,
				ViewURL:   res.Storage.ViewURL,
				Reason:    res.Storage.Reason,
			})
		}),
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", `output path, or "-" for stdout`)
	return cmd
}
