// Package curseforge resolves the latest server pack of a modpack from the
// CurseForge website API.
package curseforge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/caedis/mc-manager/internal/apperr"
	"github.com/caedis/mc-manager/internal/logging"
	"github.com/caedis/mc-manager/internal/semver"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultBaseURL   = "https://www.curseforge.com/api/v1"
	DefaultProjectID = 925200
	DefaultUserAgent = "mc-manager/1.0"

	// DefaultTimeout bounds a single file listing request.
	DefaultTimeout = 30 * time.Second
)

// File is the subset of a CurseForge project file entry we need.
type File struct {
	ID               int64  `json:"id"`
	DisplayName      string `json:"displayName"`
	FileName         string `json:"fileName"`
	FileLength       int64  `json:"fileLength"`
	DateCreated      string `json:"dateCreated"`
	ReleaseType      int    `json:"releaseType"`
	HasServerPack    bool   `json:"hasServerPack"`
	ServerPackFileID int64  `json:"serverPackFileId"`
	DownloadURL      string `json:"downloadUrl"`
}

type Pagination struct {
	Index      int `json:"index"`
	PageSize   int `json:"pageSize"`
	TotalCount int `json:"totalCount"`
}

type filesResponse struct {
	Data       []File     `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// ServerPack describes the newest published server pack.
type ServerPack struct {
	Version     string
	FileID      int64
	DisplayName string
	DownloadURL string
}

var curseforgeHTTPClient = http.DefaultClient

// Client looks up server packs for one CurseForge project.
type Client struct {
	BaseURL   string
	ProjectID int64
	UserAgent string
	Timeout   time.Duration
	// HTTPClient overrides the package default client.
	HTTPClient *http.Client

	group singleflight.Group
}

// New returns a client for projectID. Empty or zero arguments select the
// defaults.
func New(baseURL string, projectID int64) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if projectID <= 0 {
		projectID = DefaultProjectID
	}
	return &Client{
		BaseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		ProjectID: projectID,
		UserAgent: DefaultUserAgent,
		Timeout:   DefaultTimeout,
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return curseforgeHTTPClient
}

func (c *Client) filesURL() string {
	return fmt.Sprintf("%s/mods/%d/files", strings.TrimRight(c.BaseURL, "/"), c.ProjectID)
}

// FileDownloadURL returns the website download endpoint for fileID.
func (c *Client) FileDownloadURL(fileID int64) string {
	return c.filesURL() + "/" + strconv.FormatInt(fileID, 10) + "/download"
}

// ListFiles fetches the project's file listing.
func (c *Client) ListFiles(ctx context.Context) ([]File, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	apiURL := c.filesURL()
	logging.Debugf("Verbose: fetching CurseForge files url=%s\n", apiURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, apperr.New(apperr.Lookup, "list files", err)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, apperr.New(apperr.Lookup, "list files", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Errorf(apperr.Lookup, "list files", "HTTP %d", resp.StatusCode)
	}

	var body filesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperr.New(apperr.Lookup, "decode file listing", err)
	}
	logging.Debugf("Verbose: CurseForge returned %d files (total=%d)\n", len(body.Data), body.Pagination.TotalCount)
	return body.Data, nil
}

// LatestServerPack returns the newest file that ships a server pack, that is
// the one with the highest id. Concurrent calls share one request.
func (c *Client) LatestServerPack(ctx context.Context) (*ServerPack, error) {
	v, err, shared := c.group.Do("latest", func() (any, error) {
		files, err := c.ListFiles(ctx)
		if err != nil {
			return nil, err
		}
		latest, err := SelectLatestServerPack(files)
		if err != nil {
			return nil, err
		}
		return &ServerPack{
			Version:     ExtractVersion(latest.DisplayName),
			FileID:      latest.ID,
			DisplayName: latest.DisplayName,
			DownloadURL: c.downloadURLFor(latest),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logging.Debugf("Verbose: latest server pack lookup was shared\n")
	}
	pack := *v.(*ServerPack)
	return &pack, nil
}

func (c *Client) downloadURLFor(f *File) string {
	if f.ServerPackFileID > 0 {
		return c.FileDownloadURL(f.ServerPackFileID)
	}
	if u := strings.TrimSpace(f.DownloadURL); u != "" {
		return u
	}
	return c.FileDownloadURL(f.ID)
}

// SelectLatestServerPack picks the entry with the highest id among those that
// have a server pack.
func SelectLatestServerPack(files []File) (*File, error) {
	var best *File
	for i := range files {
		if !files[i].HasServerPack {
			continue
		}
		if best == nil || files[i].ID > best.ID {
			best = &files[i]
		}
	}
	if best == nil {
		return nil, apperr.Errorf(apperr.Lookup, "select server pack", "no server pack found")
	}
	return best, nil
}

// ExtractVersion returns the text after the last '-' in displayName,
// canonicalized when it is a semantic version. Names without a '-' yield
// "unknown".
func ExtractVersion(displayName string) string {
	i := strings.LastIndex(displayName, "-")
	if i < 0 {
		return "unknown"
	}
	return semver.Canonical(strings.TrimSpace(displayName[i+1:]))
}

var versionRun = regexp.MustCompile(`\d+(?:\.\d+)+`)

// ScanVersion returns the first dotted number run in displayName, or
// "unknown". It disagrees with ExtractVersion on names that carry a suffix
// after the version, e.g. "Pack-1.0.1-hotfix-2".
func ScanVersion(displayName string) string {
	if m := versionRun.FindString(displayName); m != "" {
		return semver.Canonical(m)
	}
	return "unknown"
}
