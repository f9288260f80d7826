package clubcli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
)

const tailwindVersion = "v3.4.17"

var consoleAssets = filepath.Join("internal", "console", "assets")

func newAssetsCommand() *cobra.Command {
	assets := &cobra.Command{
		Use:   "assets",
		Short: "Manage the console stylesheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return usageError(cmd)
		},
	}
	assets.AddCommand(&cobra.Command{
		Use:   "build",
		Short: "Rebuild internal/console/assets/app.css with the Tailwind CLI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return buildConsoleCSS(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	})
	return assets
}

func buildConsoleCSS(ctx context.Context, stdout, stderr io.Writer) error {
	binary := tailwindBinaryPath()
	if err := downloadTailwind(ctx, binary); err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, binary,
		"-i", filepath.Join(consoleAssets, "tailwind.input.css"),
		"-o", filepath.Join(consoleAssets, "app.css"),
		"--config", filepath.Join(consoleAssets, "tailwind.config.js"),
		"--minify",
	)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("build tailwind css: %w", err)
	}
	return nil
}

// downloadTailwind fetches the standalone CLI once; an executable already at
// destination is reused.
func downloadTailwind(ctx context.Context, destination string) error {
	if info, err := os.Stat(destination); err == nil && info.Mode()&0o111 != 0 {
		return nil
	}
	asset, err := tailwindAssetName(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return err
	}
	if err := ensureParentDirs(destination); err != nil {
		return err
	}

	url := fmt.Sprintf("https://github.com/tailwindlabs/tailwindcss/releases/download/%s/%s", tailwindVersion, asset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("prepare tailwind download: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download tailwindcss: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download tailwindcss: unexpected status %s", resp.Status)
	}

	tmp := destination + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write tailwindcss: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write tailwindcss: %w", err)
	}
	if err := os.Rename(tmp, destination); err != nil {
		return fmt.Errorf("install tailwindcss: %w", err)
	}
	return nil
}

func tailwindBinaryPath() string {
	name := "tailwindcss"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join("bin", name)
}

func tailwindAssetName(goos, goarch string) (string, error) {
	switch goos + "/" + goarch {
	case "darwin/arm64":
		return "tailwindcss-macos-arm64", nil
	case "darwin/amd64":
		return "tailwindcss-macos-x64", nil
	case "linux/amd64":
		return "tailwindcss-linux-x64", nil
	case "linux/arm64":
		return "tailwindcss-linux-arm64", nil
	case "windows/amd64":
		return "tailwindcss-windows-x64.exe", nil
	case "windows/arm64":
		return "tailwindcss-windows-arm64.exe", nil
	}
	return "", fmt.Errorf("no tailwind build for %s/%s, install it into %s by hand", goos, goarch, tailwindBinaryPath())
}
