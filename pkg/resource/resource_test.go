package resource

import (
	"testing"
	"time"

	sfmce "github.com/natserract/sfclean/pkg/salesforce/mce"
	"github.com/stretchr/testify/assert"
)

func TestNodeFromFolderDefaultsParent(t *testing.T) {
	n := NodeFromFolder(sfmce.Folder{ID: "7", Name: "Data Extensions"})
	assert.Equal(t, "0", n.ParentID)
	assert.True(t, n.IsRoot())
	assert.True(t, n.IsProtected)

	child := NodeFromFolder(sfmce.Folder{ID: "8", Name: "Campaigns", ParentID: "7"})
	assert.False(t, child.IsRoot())
	assert.False(t, child.IsProtected)
}

func TestContainerFromDataExtension(t *testing.T) {
	deletable := false
	modified := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	c := ContainerFromDataExtension(sfmce.DataExtension{
		ID:                        "de-1",
		Key:                       "KEY",
		Name:                      "Master",
		CategoryID:                42,
		IsSendable:                true,
		SendableCustomObjectField: "SubscriberKey",
		IsObjectDeletable:         &deletable,
		ModifiedDate:              sfmce.APITime{Time: modified},
		DataRetentionProperties: &sfmce.DataRetentionProperties{
			DataRetentionPeriodLength:        6,
			DataRetentionPeriodUnitOfMeasure: 5,
			IsRowBasedRetention:              true,
		},
	})

	assert.Equal(t, "KEY", c.CustomerKey)
	assert.Equal(t, "42", c.FolderID)
	assert.True(t, c.IsProtected)
	assert.Equal(t, "SubscriberKey", c.SendableField)
	assert.Equal(t, modified, c.ModifiedAt)
	if assert.NotNil(t, c.Retention) {
		assert.Equal(t, 6, c.Retention.PeriodLength)
		assert.True(t, c.Retention.RowBased)
	}
	assert.Equal(t, Item{Kind: KindDataExtension, ID: "KEY", Name: "Master"}, c.Ref())
}

func TestContainerWithoutDeletableFlagIsNotProtected(t *testing.T) {
	c := ContainerFromDataExtension(sfmce.DataExtension{ID: "de-2", Key: "K2"})
	assert.False(t, c.IsProtected)
}

func TestDependencyFromAPIUsesLatestActivity(t *testing.T) {
	modified := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	ran := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ref := DependencyFromAPI(sfmce.Dependent{
		Type:         "QueryActivity",
		ID:           "q-1",
		Name:         "Load",
		ModifiedDate: sfmce.APITime{Time: modified},
		LastRunDate:  sfmce.APITime{Time: ran},
	})
	assert.Equal(t, ran, ref.LastActivity)
	assert.Equal(t, "q-1", ref.Identifier)
}

func TestContainerModifiedFallsBackToCreated(t *testing.T) {
	created := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	c := ContainerFromDataExtension(sfmce.DataExtension{Key: "K", CreatedDate: sfmce.APITime{Time: created}})
	assert.Equal(t, created, c.ModifiedAt)

	undated := ContainerFromDataExtension(sfmce.DataExtension{Key: "K2"})
	assert.True(t, undated.ModifiedAt.IsZero())
}
