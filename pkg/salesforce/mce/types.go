package sfmce

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// APITime is a custom time type that handles Salesforce API date formats
// The API returns dates without timezone (e.g., "2020-09-09T04:04:02.257")
type APITime struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler for APITime
func (t *APITime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}

	var timeStr string
	if err := json.Unmarshal(data, &timeStr); err != nil {
		return err
	}
	if timeStr == "" {
		t.Time = time.Time{}
		return nil
	}

	for _, format := range []string{time.RFC3339, time.RFC3339Nano} {
		if parsed, err := time.Parse(format, timeStr); err == nil {
			t.Time = parsed
			return nil
		}
	}

	// No timezone: drop fractional seconds and parse the remainder.
	if idx := strings.Index(timeStr, "."); idx > 0 {
		timeStr = timeStr[:idx]
	}
	if parsed, err := time.Parse("2006-01-02T15:04:05", timeStr); err == nil {
		t.Time = parsed
		return nil
	}

	return fmt.Errorf("unable to parse time string: %s", timeStr)
}

// MarshalJSON implements json.Marshaler for APITime
func (t APITime) MarshalJSON() ([]byte, error) {
	if t.Time.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339))
}

// AuthResponse represents the OAuth token response
type AuthResponse struct {
	AccessToken     string `json:"access_token"`
	TokenType       string `json:"token_type"`
	ExpiresIn       int    `json:"expires_in"`
	Scope           string `json:"scope"`
	RestInstanceURL string `json:"rest_instance_url,omitempty"`
	SoapInstanceURL string `json:"soap_instance_url,omitempty"`
}

// AuthRequest represents the OAuth token request
type AuthRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Scope        string `json:"scope,omitempty"`
	AccountID    string `json:"account_id,omitempty"`
}

// Folder represents a Salesforce folder (category) entry
type Folder struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	LastUpdated APITime `json:"lastUpdated"`
	CreatedDate APITime `json:"createdDate"`
	CreatedBy   int     `json:"createdBy"`
	ParentID    string  `json:"parentId"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	IconType    string  `json:"iconType"`
}

// FoldersResponse represents one page of the legacy folder endpoint
type FoldersResponse struct {
	StartIndex   int      `json:"startIndex"`
	ItemsPerPage int      `json:"itemsPerPage"`
	TotalResults int      `json:"totalResults"`
	Entry        []Folder `json:"entry"`
}

// FolderFilter narrows ListFolders to folders allowing the given content types.
type FolderFilter struct {
	ContentTypes []string
}

// DataRetentionProperties represents data retention settings
type DataRetentionProperties struct {
	DataRetentionPeriodLength        int  `json:"dataRetentionPeriodLength"`
	DataRetentionPeriodUnitOfMeasure int  `json:"dataRetentionPeriodUnitOfMeasure"`
	IsDeleteAtEndOfRetentionPeriod   bool `json:"isDeleteAtEndOfRetentionPeriod"`
	IsRowBasedRetention              bool `json:"isRowBasedRetention"`
	IsResetRetentionPeriodOnImport   bool `json:"isResetRetentionPeriodOnImport"`
}

// DataExtension represents a Salesforce data extension
type DataExtension struct {
	ID                            string                   `json:"id"`
	Name                          string                   `json:"name"`
	Key                           string                   `json:"key"`
	Description                   string                   `json:"description"`
	IsActive                      bool                     `json:"isActive"`
	IsSendable                    bool                     `json:"isSendable"`
	SendableCustomObjectField     string                   `json:"sendableCustomObjectField,omitempty"`
	SendableSubscriberField       string                   `json:"sendableSubscriberField,omitempty"`
	IsTestable                    bool                     `json:"isTestable"`
	CategoryID                    int                      `json:"categoryId"`
	OwnerID                       int                      `json:"ownerId"`
	IsObjectDeletable             *bool                    `json:"isObjectDeletable"`
	CreatedDate                   APITime                  `json:"createdDate"`
	CreatedByName                 string                   `json:"createdByName"`
	ModifiedDate                  APITime                  `json:"modifiedDate"`
	ModifiedByName                string                   `json:"modifiedByName"`
	RowCount                      *int                     `json:"rowCount"`
	DataRetentionProperties       *DataRetentionProperties `json:"dataRetentionProperties"`
	FieldCount                    int                      `json:"fieldCount"`
	CategoryFullPathForRecycleBin *string                  `json:"categoryFullPathForRecyclebin"`
}

// InRecycleBin reports whether the data extension has already been soft-deleted.
func (de DataExtension) InRecycleBin() bool {
	return de.CategoryFullPathForRecycleBin != nil && *de.CategoryFullPathForRecycleBin != ""
}

// DataExtensionsResponse represents the response from the customobjects category endpoint
type DataExtensionsResponse struct {
	Count    int             `json:"count"`
	Page     int             `json:"page"`
	PageSize int             `json:"pageSize"`
	Items    []DataExtension `json:"items"`
}

// Field is a data extension column definition.
type Field struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Length       int    `json:"length,omitempty"`
	Scale        int    `json:"scale,omitempty"`
	Ordinal      int    `json:"ordinal"`
	IsNullable   bool   `json:"isNullable"`
	IsPrimaryKey bool   `json:"isPrimaryKey"`
	DefaultValue string `json:"defaultValue,omitempty"`
}

// FieldsResponse wraps the fields endpoint payload.
type FieldsResponse struct {
	Fields []Field `json:"fields"`
}

// RowsetResponse is the subset of the rowset endpoint used to count rows.
type RowsetResponse struct {
	Count *int `json:"count"`
}

// Dependent is an object elsewhere in the account referencing a data extension.
type Dependent struct {
	Type         string  `json:"type"`
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Status       string  `json:"status"`
	ModifiedDate APITime `json:"modifiedDate"`
	LastRunDate  APITime `json:"lastRunDate"`
}

// dependentPage is the common envelope of the automation and journey listings.
type dependentPage struct {
	Count    int               `json:"count"`
	Page     int               `json:"page"`
	PageSize int               `json:"pageSize"`
	Items    []json.RawMessage `json:"items"`
}
