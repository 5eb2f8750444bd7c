package sfmce

import "context"

// SalesforceClient defines the interface for the Marketing Cloud calls the cleanup tooling needs
type SalesforceClient interface {
	// Ping verifies credentials by obtaining an access token
	Ping(ctx context.Context) error

	// Tenant returns the business unit the client is bound to
	Tenant() string

	// ListFolders retrieves all folders allowing the filtered content types
	ListFolders(ctx context.Context, filter FolderFilter) ([]Folder, error)

	// ListDataExtensions retrieves all data extensions of a folder
	ListDataExtensions(ctx context.Context, folderID string) ([]DataExtension, error)

	// GetDataExtensionFields retrieves the column definitions of a data extension
	GetDataExtensionFields(ctx context.Context, dataExtensionID string) ([]Field, error)

	// GetRowCount retrieves the row count, nil when unknown
	GetRowCount(ctx context.Context, key string) (*int, error)

	// ListDependents retrieves objects referencing a data extension
	ListDependents(ctx context.Context, key string) ([]Dependent, error)

	// DeleteDataExtension removes a data extension by external key
	DeleteDataExtension(ctx context.Context, key string) error

	// DeleteFolder removes an empty folder
	DeleteFolder(ctx context.Context, folderID string) error
}

var _ SalesforceClient = (*Salesforce)(nil)
