// Package resource holds the normalized view of Marketing Cloud folders and
// data extensions that the rest of the tooling works with. Raw API records
// from sfmce are converted here and nowhere else.
package resource

import (
	"strconv"
	"time"

	sfmce "github.com/natserract/sfclean/pkg/salesforce/mce"
)

// Kind distinguishes the two deletable resource types.
type Kind string

const (
	KindFolder        Kind = "folder"
	KindDataExtension Kind = "dataextension"
)

// Node is a folder in the account's category tree.
type Node struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ParentID    string    `json:"parentId,omitempty"`
	ContentType string    `json:"contentType"`
	IsProtected bool      `json:"isProtected"`
	CreatedAt   time.Time `json:"createdAt"`
	ModifiedAt  time.Time `json:"modifiedAt"`
}

// IsRoot reports whether the node has no parent. The API uses "0" for roots.
func (n Node) IsRoot() bool {
	return n.ParentID == "" || n.ParentID == "0"
}

// Field is a column of a data extension.
type Field struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Length       int    `json:"length,omitempty"`
	Scale        int    `json:"scale,omitempty"`
	Ordinal      int    `json:"ordinal"`
	IsNullable   bool   `json:"isNullable"`
	IsPrimaryKey bool   `json:"isPrimaryKey"`
	DefaultValue string `json:"defaultValue,omitempty"`
}

// Retention is the data retention policy of a data extension.
type Retention struct {
	PeriodLength  int  `json:"periodLength"`
	PeriodUnit    int  `json:"periodUnit"`
	DeleteAtEnd   bool `json:"deleteAtEnd"`
	RowBased      bool `json:"rowBased"`
	ResetOnImport bool `json:"resetOnImport"`
}

// DependencyRef points from another platform object into a data extension.
type DependencyRef struct {
	Type         string    `json:"type"`
	Name         string    `json:"name"`
	Identifier   string    `json:"identifier"`
	Status       string    `json:"status,omitempty"`
	LastActivity time.Time `json:"lastActivity,omitempty"`
}

// Container is a data extension. CustomerKey is its stable identity; Name is
// neither unique nor immutable.
type Container struct {
	ID              string          `json:"id"`
	CustomerKey     string          `json:"customerKey"`
	Name            string          `json:"name"`
	FolderID        string          `json:"folderId"`
	FolderPath      string          `json:"folderPath,omitempty"`
	RowCount        *int            `json:"rowCount,omitempty"`
	Fields          []Field         `json:"fields,omitempty"`
	PIIFields       []string        `json:"piiFields,omitempty"`
	IsProtected     bool            `json:"isProtected"`
	IsSendable      bool            `json:"isSendable"`
	SendableField   string          `json:"sendableField,omitempty"`
	HasDependencies bool            `json:"hasDependencies"`
	Dependencies    []DependencyRef `json:"dependencies,omitempty"`
	Retention       *Retention      `json:"retention,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	ModifiedAt      time.Time       `json:"modifiedAt"`
}

// Item identifies one unit of work in an operation.
type Item struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Ref returns the work item for the container.
func (c Container) Ref() Item {
	return Item{Kind: KindDataExtension, ID: c.CustomerKey, Name: c.Name}
}

// Ref returns the work item for the folder.
func (n Node) Ref() Item {
	return Item{Kind: KindFolder, ID: n.ID, Name: n.Name}
}

// NodeFromFolder maps a raw folder. Missing parents default to the root marker.
func NodeFromFolder(f sfmce.Folder) Node {
	parent := f.ParentID
	if parent == "" {
		parent = "0"
	}
	modified := f.LastUpdated.Time
	created := f.CreatedDate.Time
	if created.IsZero() {
		created = modified
	}
	return Node{
		ID:          f.ID,
		Name:        f.Name,
		ParentID:    parent,
		ContentType: f.Type,
		// Top-level categories are system folders and cannot be removed.
		IsProtected: parent == "0",
		CreatedAt:   created,
		ModifiedAt:  modified,
	}
}

// NodesFromFolders maps a folder listing, dropping entries without an ID.
func NodesFromFolders(folders []sfmce.Folder) []Node {
	nodes := make([]Node, 0, len(folders))
	for _, f := range folders {
		if f.ID == "" {
			continue
		}
		nodes = append(nodes, NodeFromFolder(f))
	}
	return nodes
}

// ContainerFromDataExtension maps a raw data extension. Fields and
// dependencies are fetched separately and attached later.
func ContainerFromDataExtension(de sfmce.DataExtension) Container {
	c := Container{
		ID:          de.ID,
		CustomerKey: de.Key,
		Name:        de.Name,
		FolderID:    strconv.Itoa(de.CategoryID),
		RowCount:    de.RowCount,
		IsSendable:  de.IsSendable,
		// The platform flags some objects (synchronized, system) as undeletable.
		IsProtected: de.IsObjectDeletable != nil && !*de.IsObjectDeletable,
		CreatedAt:   de.CreatedDate.Time,
		ModifiedAt:  de.ModifiedDate.Time,
	}
	// Never-modified objects may come back without a modified date.
	if c.ModifiedAt.IsZero() {
		c.ModifiedAt = c.CreatedAt
	}
	if de.IsSendable {
		c.SendableField = de.SendableCustomObjectField
	}
	if r := de.DataRetentionProperties; r != nil {
		c.Retention = &Retention{
			PeriodLength:  r.DataRetentionPeriodLength,
			PeriodUnit:    r.DataRetentionPeriodUnitOfMeasure,
			DeleteAtEnd:   r.IsDeleteAtEndOfRetentionPeriod,
			RowBased:      r.IsRowBasedRetention,
			ResetOnImport: r.IsResetRetentionPeriodOnImport,
		}
	}
	if c.CustomerKey == "" {
		c.CustomerKey = de.ID
	}
	return c
}

// FieldsFromAPI maps raw field definitions.
func FieldsFromAPI(raw []sfmce.Field) []Field {
	fields := make([]Field, 0, len(raw))
	for _, f := range raw {
		fields = append(fields, Field{
			Name:         f.Name,
			Type:         f.Type,
			Length:       f.Length,
			Scale:        f.Scale,
			Ordinal:      f.Ordinal,
			IsNullable:   f.IsNullable,
			IsPrimaryKey: f.IsPrimaryKey,
			DefaultValue: f.DefaultValue,
		})
	}
	return fields
}

// DependencyFromAPI maps a raw dependent. LastActivity is the later of the
// last run and the last modification.
func DependencyFromAPI(d sfmce.Dependent) DependencyRef {
	last := d.ModifiedDate.Time
	if d.LastRunDate.After(last) {
		last = d.LastRunDate.Time
	}
	return DependencyRef{
		Type:         d.Type,
		Name:         d.Name,
		Identifier:   d.ID,
		Status:       d.Status,
		LastActivity: last,
	}
}
