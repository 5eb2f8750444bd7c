package sfmce

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	httpclient "github.com/natserract/sfclean/pkg/http"
	"go.uber.org/zap"
)

// ListDataExtensions fetches all data extensions of a folder, page by page,
// skipping entries that already sit in the recycle bin.
func (s *Salesforce) ListDataExtensions(ctx context.Context, folderID string) ([]DataExtension, error) {
	headers, err := s.authHeaders(ctx)
	if err != nil {
		return nil, err
	}

	var all []DataExtension
	for page := 1; ; page++ {
		endpoint, err := httpclient.BuildURL(s.config.RestBaseURI, fmt.Sprintf("/data/v1/customobjects/category/%s", folderID), map[string]string{
			"retrievalType": "1",
			"$page":         strconv.Itoa(page),
			"$pagesize":     strconv.Itoa(s.pageSize),
			"$orderBy":      "modifiedDate DESC",
			"_":             strconv.FormatInt(time.Now().Unix(), 10),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build URL: %w", err)
		}

		resp, err := s.httpClient.Get(ctx, endpoint, headers)
		if err != nil {
			s.logger.Error("Get data extensions request failed", zap.Error(err), zap.String("folder_id", folderID), zap.Int("page", page))
			return nil, fmt.Errorf("get data extensions for folder %s (page %d): %w", folderID, page, err)
		}

		var dataExtResp DataExtensionsResponse
		if err := json.Unmarshal(resp.Body, &dataExtResp); err != nil {
			return nil, fmt.Errorf("failed to parse data extensions response: %w", err)
		}

		for _, de := range dataExtResp.Items {
			if !de.InRecycleBin() {
				all = append(all, de)
			}
		}

		if len(dataExtResp.Items) < s.pageSize {
			break
		}
	}

	s.logger.Info("Completed fetching data extensions for folder",
		zap.String("folder_id", folderID),
		zap.Int("total_items", len(all)))

	return all, nil
}

// GetDataExtensionFields returns the column definitions of a data extension.
func (s *Salesforce) GetDataExtensionFields(ctx context.Context, dataExtensionID string) ([]Field, error) {
	headers, err := s.authHeaders(ctx)
	if err != nil {
		return nil, err
	}

	endpoint, err := httpclient.BuildURL(s.config.RestBaseURI, fmt.Sprintf("/data/v1/customobjects/%s/fields", dataExtensionID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build URL: %w", err)
	}

	resp, err := s.httpClient.Get(ctx, endpoint, headers)
	if err != nil {
		return nil, fmt.Errorf("get fields for %s: %w", dataExtensionID, err)
	}

	var fieldsResp FieldsResponse
	if err := json.Unmarshal(resp.Body, &fieldsResp); err != nil {
		return nil, fmt.Errorf("failed to parse fields response: %w", err)
	}
	return fieldsResp.Fields, nil
}

// GetRowCount returns the number of rows, or nil when the API does not report one.
func (s *Salesforce) GetRowCount(ctx context.Context, key string) (*int, error) {
	headers, err := s.authHeaders(ctx)
	if err != nil {
		return nil, err
	}

	endpoint, err := httpclient.BuildURL(s.config.RestBaseURI, fmt.Sprintf("/data/v1/customobjectdata/key/%s/rowset", key), map[string]string{
		"$page":     "1",
		"$pageSize": "1",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build URL: %w", err)
	}

	resp, err := s.httpClient.Get(ctx, endpoint, headers)
	if err != nil {
		if httpclient.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get row count for %s: %w", key, err)
	}

	var rowset RowsetResponse
	if err := json.Unmarshal(resp.Body, &rowset); err != nil {
		return nil, fmt.Errorf("failed to parse rowset response: %w", err)
	}
	return rowset.Count, nil
}

// DeleteDataExtension removes a data extension by its external key.
func (s *Salesforce) DeleteDataExtension(ctx context.Context, key string) error {
	headers, err := s.authHeaders(ctx)
	if err != nil {
		return err
	}

	endpoint, err := httpclient.BuildURL(s.config.RestBaseURI, fmt.Sprintf("/data/v1/customobjects/key/%s", key), nil)
	if err != nil {
		return fmt.Errorf("failed to build URL: %w", err)
	}

	s.logger.Info("Deleting data extension", zap.String("customer_key", key))
	if _, err := s.httpClient.Delete(ctx, endpoint, headers); err != nil {
		return fmt.Errorf("delete data extension %s: %w", key, err)
	}
	return nil
}
