package sfmce

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	httpclient "github.com/natserract/sfclean/pkg/http"
	"go.uber.org/zap"
)

// DefaultFolderTypes are the content types holding data extensions.
var DefaultFolderTypes = []string{"synchronizeddataextension", "dataextension", "shared_data"}

// ListFolders retrieves every folder allowing one of the filter's content
// types, following the $top/$skip pagination of the legacy folder endpoint.
func (s *Salesforce) ListFolders(ctx context.Context, filter FolderFilter) ([]Folder, error) {
	types := filter.ContentTypes
	if len(types) == 0 {
		types = DefaultFolderTypes
	}
	quoted := make([]string, len(types))
	for i, t := range types {
		quoted[i] = "'" + strings.ReplaceAll(t, "'", "") + "'"
	}

	headers, err := s.authHeaders(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Getting folders", zap.Strings("content_types", types))

	const top = 1000
	var all []Folder
	for skip := 0; ; skip += top {
		endpoint, err := httpclient.BuildURL(s.config.RestBaseURI, "/legacy/v1/beta/folder", map[string]string{
			"$where":       fmt.Sprintf("allowedtypes in (%s)", strings.Join(quoted, ", ")),
			"Localization": "true",
			"$top":         strconv.Itoa(top),
			"$skip":        strconv.Itoa(skip),
			"_":            strconv.FormatInt(time.Now().Unix(), 10),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build URL: %w", err)
		}

		resp, err := s.httpClient.Get(ctx, endpoint, headers)
		if err != nil {
			s.logger.Error("Get folders request failed", zap.Error(err), zap.Int("skip", skip))
			return nil, fmt.Errorf("get folders request failed: %w", err)
		}

		var page FoldersResponse
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			s.logger.Error("Failed to parse folders response", zap.Error(err))
			return nil, fmt.Errorf("failed to parse folders response: %w", err)
		}

		all = append(all, page.Entry...)
		if len(page.Entry) < top || len(all) >= page.TotalResults {
			break
		}
	}

	s.logger.Info("Successfully retrieved folders", zap.Int("items_count", len(all)))
	return all, nil
}

// DeleteFolder removes an empty folder.
func (s *Salesforce) DeleteFolder(ctx context.Context, folderID string) error {
	headers, err := s.authHeaders(ctx)
	if err != nil {
		return err
	}

	endpoint, err := httpclient.BuildURL(s.config.RestBaseURI, "/legacy/v1/beta/folder/"+folderID, nil)
	if err != nil {
		return fmt.Errorf("failed to build URL: %w", err)
	}

	s.logger.Info("Deleting folder", zap.String("folder_id", folderID))
	if _, err := s.httpClient.Delete(ctx, endpoint, headers); err != nil {
		return fmt.Errorf("delete folder %s: %w", folderID, err)
	}
	return nil
}
