package dictionary

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/japaniel/tango/pkg/logger"
)

const (
	repoOwner = "scriptin"
	repoName  = "jmdict-simplified"
)

// releaseAPIURL is a variable so tests can point it at a local server.
var releaseAPIURL = fmt.Sprintf("https://api.github.com/repos/%s/%s/releases/latest", repoOwner, repoName)

// EnsureDictionary checks if the dictionary exists at path.
// If not, it discovers the latest release from GitHub, downloads it, and decompresses it.
func EnsureDictionary(ctx context.Context, path string, log *logger.Logger) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if log == nil {
		log = logger.Nop()
	}

	log.Info("dictionary not found, downloading", "path", path)

	client := &http.Client{Timeout: 5 * time.Minute}
	downloadURL, err := getLatestReleaseAssetURL(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to find latest dictionary release: %w", err)
	}

	log.Info("downloading dictionary", "url", downloadURL)
	return downloadAndExtract(ctx, client, downloadURL, path)
}

func getLatestReleaseAssetURL(ctx context.Context, client *http.Client) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, releaseAPIURL, nil)
	if err != nil {
		return "", err
	}
	// Add User-Agent as required by GitHub API
	req.Header.Set("User-Agent", "tango-cli")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("github api returned status: %s", resp.Status)
	}

	var release struct {
		Assets []struct {
			Name               string `json:"name"`
			BrowserDownloadURL string `json:"browser_download_url"`
		} `json:"assets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", err
	}

	// Pattern: jmdict-eng-common-*.json.tgz
	for _, asset := range release.Assets {
		if strings.Contains(asset.Name, "jmdict-eng-common") && (strings.HasSuffix(asset.Name, ".json.tgz") || strings.HasSuffix(asset.Name, ".json.gz")) {
			return asset.BrowserDownloadURL, nil
		}
	}

	return "", fmt.Errorf("no suitable dictionary asset found in latest release")
}

// downloadAndExtract writes the first .json member of the tar.gz at url to
// destPath. The file is staged next to destPath and renamed into place so an
// interrupted download never leaves a truncated dictionary behind.
func downloadAndExtract(ctx context.Context, client *http.Client, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: %s", resp.Status)
	}

	gzReader, err := gzip.NewReader(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("error reading tar archive: %w", err)
		}
		if header.Typeflag != tar.TypeReg || !strings.HasSuffix(header.Name, ".json") {
			continue
		}

		tmp, err := os.CreateTemp(filepath.Dir(destPath), ".jmdict-*.json")
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		if _, err := io.Copy(tmp, tarReader); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("failed to write to file: %w", err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return err
		}
		return os.Rename(tmp.Name(), destPath)
	}

	return fmt.Errorf("no json file found in downloaded archive")
}
