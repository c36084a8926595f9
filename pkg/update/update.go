// Package update implements the `update` subcommand: check GitHub for a
// newer release, download the platform asset, extract the binary from its
// tar.gz/zip, and atomically replace the running executable.
package update

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"myagent/pkg/daemon"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CurrentVersion is myagent's reported release version.
const CurrentVersion = "0.1.0"

const githubRepo = "vecbase-labs/myagent"

type releaseAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

type githubRelease struct {
	TagName string         `json:"tag_name"`
	Assets  []releaseAsset `json:"assets"`
}

// Run checks GitHub for a newer release, downloads and verifies it, and
// atomically replaces the running binary.
func Run() error {
	fmt.Println("Checking for updates...")

	tag, assets, err := fetchReleaseInfo()
	if err != nil {
		return fmt.Errorf("Update failed. Please check your network and try again.")
	}

	currentVer, curOK := parseVersion(CurrentVersion)
	latestVer, latOK := parseVersion(tag)
	if curOK && latOK && !isNewer(latestVer, currentVer) {
		fmt.Printf("Already up to date (v%s).\n", CurrentVersion)
		return nil
	}

	fmt.Printf("Updating %s -> %s...\n", CurrentVersion, tag)

	assetName, err := AssetName()
	if err != nil {
		return err
	}
	var target *releaseAsset
	for i := range assets {
		if assets[i].Name == assetName {
			target = &assets[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("No release found for this platform.")
	}

	data, err := downloadAsset(target.BrowserDownloadURL)
	if err != nil {
		return err
	}

	binary, err := extractBinary(data, target.Name)
	if err != nil {
		return fmt.Errorf("Update failed. Please try again later.")
	}

	if err := verifyAndReplace(binary); err != nil {
		return err
	}

	if daemon.IsDaemonRunning() {
		fmt.Printf("Updated to %s. Run `myagent restart` to apply to the daemon.\n", tag)
	} else {
		fmt.Printf("Updated to %s.\n", tag)
	}
	return nil
}

func fetchReleaseInfo() (string, []releaseAsset, error) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/releases/latest", githubRepo)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("User-Agent", "myagent/"+CurrentVersion)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("github: status %d", resp.StatusCode)
	}

	var rel githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return "", nil, err
	}
	return rel.TagName, rel.Assets, nil
}

func downloadAsset(url string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("Update failed. Please check your network and try again.")
	}
	req.Header.Set("User-Agent", "myagent/"+CurrentVersion)
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Update failed. Please check your network and try again.")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Update failed. Please try again later.")
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("Download interrupted. Please try again.")
	}
	return data, nil
}

func extractBinary(data []byte, assetName string) ([]byte, error) {
	switch {
	case strings.HasSuffix(assetName, ".tar.gz"):
		return extractFromTarGz(data)
	case strings.HasSuffix(assetName, ".zip"):
		return extractFromZip(data)
	default:
		return nil, fmt.Errorf("unknown archive format: %s", assetName)
	}
}

func extractFromTarGz(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(strings.NewReader(string(data)))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if filepath.Base(hdr.Name) == "myagent" {
			return io.ReadAll(tr)
		}
	}
	return nil, fmt.Errorf("binary not found in archive")
}

func extractFromZip(data []byte) ([]byte, error) {
	r, err := zip.NewReader(strings.NewReader(string(data)), int64(len(data)))
	if err != nil {
		return nil, err
	}
	for _, f := range r.File {
		name := filepath.Base(f.Name)
		if name == "myagent.exe" || name == "myagent" {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("binary not found in archive")
}

// verifyAndReplace writes binary to a temp path, confirms it runs
// `--version` successfully, then atomically renames it over the current
// executable. If verification fails, the running binary is never touched.
func verifyAndReplace(binary []byte) error {
	tmpDir := filepath.Join(os.TempDir(), "myagent-update")
	cleanup := func() { os.RemoveAll(tmpDir) }

	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return err
	}
	binName := "myagent"
	if runtime.GOOS == "windows" {
		binName = "myagent.exe"
	}
	tmpBin := filepath.Join(tmpDir, binName)
	if err := os.WriteFile(tmpBin, binary, 0o755); err != nil {
		cleanup()
		return err
	}

	cmd := exec.Command(tmpBin, "--version")
	if err := cmd.Run(); err != nil {
		cleanup()
		return fmt.Errorf("Update failed. Please try again later.")
	}

	exe, err := os.Executable()
	if err != nil {
		cleanup()
		return fmt.Errorf("Update failed. Please try again later.")
	}
	if err := os.Rename(tmpBin, exe); err != nil {
		cleanup()
		return fmt.Errorf("Update failed. Please try again later.")
	}
	cleanup()
	return nil
}

func parseVersion(v string) ([3]int, bool) {
	parts := strings.Split(strings.TrimSpace(strings.TrimPrefix(v, "v")), ".")
	if len(parts) != 3 {
		return [3]int{}, false
	}
	var out [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return [3]int{}, false
		}
		out[i] = n
	}
	return out, true
}

func isNewer(latest, current [3]int) bool {
	for i := 0; i < 3; i++ {
		if latest[i] != current[i] {
			return latest[i] > current[i]
		}
	}
	return false
}

// AssetName returns the release asset name for the current platform.
func AssetName() (string, error) {
	osPart, archPart, err := platformParts()
	if err != nil {
		return "", err
	}
	if runtime.GOOS == "windows" {
		return fmt.Sprintf("myagent-%s-%s.zip", osPart, archPart), nil
	}
	return fmt.Sprintf("myagent-%s-%s.tar.gz", osPart, archPart), nil
}

func platformParts() (osPart, archPart string, err error) {
	switch runtime.GOOS {
	case "darwin":
		osPart = "darwin"
	case "linux":
		osPart = "linux"
	case "windows":
		osPart = "windows"
	default:
		return "", "", fmt.Errorf("Unsupported platform: %s/%s", runtime.GOOS, runtime.GOARCH)
	}
	switch runtime.GOARCH {
	case "amd64":
		archPart = "x86_64"
	case "arm64":
		archPart = "aarch64"
	default:
		return "", "", fmt.Errorf("Unsupported platform: %s/%s", runtime.GOOS, runtime.GOARCH)
	}
	return osPart, archPart, nil
}
