// Package audit persists what a cleanup run did: the resumable operation
// state, the final audit record and the schema artifacts written for undo.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/natserract/sfclean/pkg/resource"
)

// ErrStateNotFound is returned by LoadState for an unknown operation id.
var ErrStateNotFound = errors.New("operation state not found")

// Status is the outcome of one item.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusSkipped Status = "skipped"
)

// Outcome is one entry of the append-only outcome log.
type Outcome struct {
	Item      resource.Item `json:"item"`
	Status    Status        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Counts are taken before execution starts.
type Counts struct {
	Discovered       int `json:"discovered"`
	Filtered         int `json:"filtered"`
	Protected        int `json:"protected"`
	WithDependencies int `json:"withDependencies"`
	Selected         int `json:"selected"`
	Folders          int `json:"folders"`
}

// Totals summarise the outcome log.
type Totals struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Record is written once when a run ends and never changed.
type Record struct {
	OperationID  string         `json:"operationId"`
	Operation    string         `json:"operation"`
	Tenant       string         `json:"tenant"`
	TargetFolder string         `json:"targetFolder"`
	Options      map[string]any `json:"options,omitempty"`
	Counts       Counts         `json:"counts"`
	Totals       Totals         `json:"totals"`
	Outcomes     []Outcome      `json:"outcomes"`
	ExitCode     int            `json:"exitCode"`
	StartedAt    time.Time      `json:"startedAt"`
	CompletedAt  time.Time      `json:"completedAt"`
}

// State is the resumable progress of an operation.
type State struct {
	OperationID      string          `json:"operationId"`
	Tenant           string          `json:"tenant"`
	TargetFolderPath string          `json:"targetFolderPath"`
	Processed        []Outcome       `json:"processed"`
	Remaining        []resource.Item `json:"remaining"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Schema is the structure of a data extension, never its rows.
type Schema struct {
	CustomerKey   string              `json:"customerKey"`
	Name          string              `json:"name"`
	FolderPath    string              `json:"folderPath"`
	Fields        []resource.Field    `json:"fields"`
	IsSendable    bool                `json:"isSendable"`
	SendableField string              `json:"sendableField,omitempty"`
	Retention     *resource.Retention `json:"retention,omitempty"`
}

// SchemaOf captures the structure of c.
func SchemaOf(c resource.Container) Schema {
	return Schema{
		CustomerKey:   c.CustomerKey,
		Name:          c.Name,
		FolderPath:    c.FolderPath,
		Fields:        c.Fields,
		IsSendable:    c.IsSendable,
		SendableField: c.SendableField,
		Retention:     c.Retention,
	}
}

// Artifact kinds.
const (
	ArtifactUndo   = "undo"
	ArtifactBackup = "backup"
)

// Store is durable storage for states, records and artifacts.
type Store interface {
	SaveState(ctx context.Context, state *State) error
	// LoadState returns ErrStateNotFound for an unknown id.
	LoadState(ctx context.Context, operationID string) (*State, error)
	// ClearState is not an error when no state exists.
	ClearState(ctx context.Context, operationID string) error
	SaveRecord(ctx context.Context, record *Record) error
	SaveArtifact(ctx context.Context, operationID, kind string, schemas []Schema) error
}
