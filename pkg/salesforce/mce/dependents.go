package sfmce

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	httpclient "github.com/natserract/sfclean/pkg/http"
	"go.uber.org/zap"
)

// dependentSource describes one listing that can reference a data extension.
type dependentSource struct {
	kind   string
	path   string
	filter string // %s is replaced with the quoted external key
	decode func(json.RawMessage) (Dependent, error)
}

type queryActivity struct {
	QueryDefinitionID string  `json:"queryDefinitionId"`
	Name              string  `json:"name"`
	Status            string  `json:"status"`
	ModifiedDate      APITime `json:"modifiedDate"`
	LastRunDate       APITime `json:"lastRunTime"`
}

type importDefinition struct {
	ImportDefinitionID string  `json:"importDefinitionId"`
	Name               string  `json:"name"`
	ModifiedDate       APITime `json:"modifiedDate"`
	LastRunDate        APITime `json:"lastRunDate"`
}

type eventDefinition struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Status       string  `json:"status"`
	ModifiedDate APITime `json:"modifiedDate"`
}

type filterDefinition struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	ModifiedDate APITime `json:"modifiedDate"`
}

var dependentSources = []dependentSource{
	{
		kind:   "QueryActivity",
		path:   "/automation/v1/queries",
		filter: "targetKey eq %s",
		decode: func(raw json.RawMessage) (Dependent, error) {
			var q queryActivity
			if err := json.Unmarshal(raw, &q); err != nil {
				return Dependent{}, err
			}
			return Dependent{ID: q.QueryDefinitionID, Name: q.Name, Status: q.Status, ModifiedDate: q.ModifiedDate, LastRunDate: q.LastRunDate}, nil
		},
	},
	{
		kind:   "ImportActivity",
		path:   "/automation/v1/imports",
		filter: "destinationObjectKey eq %s",
		decode: func(raw json.RawMessage) (Dependent, error) {
			var d importDefinition
			if err := json.Unmarshal(raw, &d); err != nil {
				return Dependent{}, err
			}
			return Dependent{ID: d.ImportDefinitionID, Name: d.Name, ModifiedDate: d.ModifiedDate, LastRunDate: d.LastRunDate}, nil
		},
	},
	{
		kind:   "JourneyEntryEvent",
		path:   "/interaction/v1/eventDefinitions",
		filter: "dataExtensionKey eq %s",
		decode: func(raw json.RawMessage) (Dependent, error) {
			var e eventDefinition
			if err := json.Unmarshal(raw, &e); err != nil {
				return Dependent{}, err
			}
			return Dependent{ID: e.ID, Name: e.Name, Status: e.Status, ModifiedDate: e.ModifiedDate}, nil
		},
	},
	{
		kind:   "FilterActivity",
		path:   "/email/v1/filters",
		filter: "destinationObjectKey eq %s",
		decode: func(raw json.RawMessage) (Dependent, error) {
			var f filterDefinition
			if err := json.Unmarshal(raw, &f); err != nil {
				return Dependent{}, err
			}
			return Dependent{ID: f.ID, Name: f.Name, ModifiedDate: f.ModifiedDate}, nil
		},
	},
}

// ListDependents scans automation, journey and filter definitions for
// objects that read from or write to the data extension identified by key.
func (s *Salesforce) ListDependents(ctx context.Context, key string) ([]Dependent, error) {
	headers, err := s.authHeaders(ctx)
	if err != nil {
		return nil, err
	}

	var all []Dependent
	for _, src := range dependentSources {
		found, err := s.listDependentsFrom(ctx, headers, src, key)
		if err != nil {
			return nil, err
		}
		all = append(all, found...)
	}

	s.logger.Debug("Listed dependents", zap.String("customer_key", key), zap.Int("count", len(all)))
	return all, nil
}

func (s *Salesforce) listDependentsFrom(ctx context.Context, headers map[string]string, src dependentSource, key string) ([]Dependent, error) {
	var out []Dependent
	for page := 1; ; page++ {
		endpoint, err := httpclient.BuildURL(s.config.RestBaseURI, src.path, map[string]string{
			"$filter":   fmt.Sprintf(src.filter, "'"+strings.ReplaceAll(key, "'", "''")+"'"),
			"$page":     strconv.Itoa(page),
			"$pageSize": strconv.Itoa(s.pageSize),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build URL: %w", err)
		}

		resp, err := s.httpClient.Get(ctx, endpoint, headers)
		if err != nil {
			return nil, fmt.Errorf("list %s dependents of %s: %w", src.kind, key, err)
		}

		var body dependentPage
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			return nil, fmt.Errorf("failed to parse %s listing: %w", src.kind, err)
		}

		for _, raw := range body.Items {
			dep, err := src.decode(raw)
			if err != nil {
				s.logger.Warn("Skipping undecodable dependent", zap.String("type", src.kind), zap.Error(err))
				continue
			}
			dep.Type = src.kind
			out = append(out, dep)
		}

		if len(body.Items) < s.pageSize {
			return out, nil
		}
	}
}
