package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Outbound-Project/outbound-bot/pipeline"
)

// ListArchives queries the folder for ZIP files, shared drives
// included, mirroring the files.list query the importer has always
// used.
func (p *Provider) ListArchives(ctx context.Context, folderID string) ([]pipeline.ArchiveRef, error) {
	query := fmt.Sprintf("'%s' in parents and trashed=false and name contains '.zip'", folderID)
	params := url.Values{}
	params.Set("q", query)
	params.Set("fields", "files(id,name,modifiedTime)")
	params.Set("supportsAllDrives", "true")
	params.Set("includeItemsFromAllDrives", "true")

	body, err := p.get(ctx, p.baseURL+"/files?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("drive: files.list: %w", err)
	}

	var response struct {
		Files []struct {
			ID           string `json:"id"`
			Name         string `json:"name"`
			ModifiedTime string `json:"modifiedTime"`
		} `json:"files"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("drive: decode files.list response: %w", err)
	}

	archives := make([]pipeline.ArchiveRef, 0, len(response.Files))
	for _, file := range response.Files {
		ref := pipeline.ArchiveRef{ID: file.ID, Name: file.Name}
		if file.ModifiedTime != "" {
			modifiedAt, parseErr := time.Parse(time.RFC3339, file.ModifiedTime)
			if parseErr != nil {
				return nil, fmt.Errorf("drive: parse modified time %q: %w", file.ModifiedTime, parseErr)
			}
			ref.ModifiedAt = modifiedAt.UTC()
		}
		archives = append(archives, ref)
	}
	return archives, nil
}

// Download fetches the raw file contents with alt=media.
func (p *Provider) Download(ctx context.Context, archiveID string) ([]byte, error) {
	endpoint := p.baseURL + "/files/" + url.PathEscape(archiveID) + "?alt=media"
	body, err := p.do(ctx, http.MethodGet, endpoint, nil, maxMediaBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("drive: files.get media: %w", err)
	}
	return body, nil
}

var _ pipeline.ArchiveSource = (*Provider)(nil)
