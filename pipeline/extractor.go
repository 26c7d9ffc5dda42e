package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Outbound-Project/outbound-bot/core"
)

// ArchiveRef identifies one archive in the source folder.
type ArchiveRef struct {
	ID         string
	Name       string
	ModifiedAt time.Time
}

// ArchiveSource lists and downloads archives from a source folder.
type ArchiveSource interface {
	ListArchives(ctx context.Context, folderID string) ([]ArchiveRef, error)
	Download(ctx context.Context, archiveID string) ([]byte, error)
}

// ZIPCSVExtractor downloads every ZIP in the workflow's source folder
// and merges the CSV rows inside into one table.
type ZIPCSVExtractor struct {
	source ArchiveSource
}

func NewZIPCSVExtractor(source ArchiveSource) (*ZIPCSVExtractor, error) {
	if source == nil {
		return nil, fmt.Errorf("pipeline: archive source is required")
	}
	return &ZIPCSVExtractor{source: source}, nil
}

func (e *ZIPCSVExtractor) Extract(ctx context.Context, wf core.WorkflowConfig) (Table, error) {
	if strings.TrimSpace(wf.SourceFolderID) == "" {
		return Table{}, fmt.Errorf("pipeline: workflow %q has no source folder", wf.WorkflowID)
	}
	archives, err := e.source.ListArchives(ctx, wf.SourceFolderID)
	if err != nil {
		return Table{}, fmt.Errorf("pipeline: list archives: %w", err)
	}

	var merged Table
	for _, archive := range archives {
		if !strings.HasSuffix(strings.ToLower(archive.Name), ".zip") {
			continue
		}
		data, err := e.source.Download(ctx, archive.ID)
		if err != nil {
			return Table{}, fmt.Errorf("pipeline: download %q: %w", archive.Name, err)
		}
		table, err := tableFromZIP(data)
		if err != nil {
			return Table{}, fmt.Errorf("pipeline: extract %q: %w", archive.Name, err)
		}
		merged = merged.Append(table)
	}
	return merged, nil
}

func tableFromZIP(data []byte) (Table, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Table{}, fmt.Errorf("open archive: %w", err)
	}

	var merged Table
	for _, file := range reader.File {
		if !strings.HasSuffix(strings.ToLower(file.Name), ".csv") {
			continue
		}
		entry, err := file.Open()
		if err != nil {
			return Table{}, fmt.Errorf("open %q: %w", file.Name, err)
		}
		table, err := tableFromCSV(entry)
		closeErr := entry.Close()
		if err != nil {
			return Table{}, fmt.Errorf("parse %q: %w", file.Name, err)
		}
		if closeErr != nil {
			return Table{}, fmt.Errorf("close %q: %w", file.Name, closeErr)
		}
		merged = merged.Append(table)
	}
	return merged, nil
}

func tableFromCSV(input io.Reader) (Table, error) {
	reader := csv.NewReader(input)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return Table{}, err
	}
	if len(records) == 0 {
		return Table{}, nil
	}
	header := make([]string, len(records[0]))
	for i, column := range records[0] {
		header[i] = strings.TrimSpace(column)
	}
	return Table{Header: header, Rows: records[1:]}, nil
}

var _ Extractor = (*ZIPCSVExtractor)(nil)
