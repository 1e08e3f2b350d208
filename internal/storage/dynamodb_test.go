package storage

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/stretchr/testify/assert"

	"github.com/tendhunt/data-sync-service/internal/models"
)

func TestNoticePK(t *testing.T) {
	assert.Equal(t, "FIND_A_TENDER#n-1", noticePK(models.SourceFindATender, "n-1"))
	assert.Equal(t, "CONTRACTS_FINDER#n-1", noticePK(models.SourceContractsFinder, "n-1"))
}

func TestItemTime(t *testing.T) {
	av := &dynamodb.AttributeValue{S: aws.String("2024-03-15T10:30:00Z")}
	assert.Equal(t, time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC), itemTime(av))

	assert.True(t, itemTime(nil).IsZero())
	assert.True(t, itemTime(&dynamodb.AttributeValue{}).IsZero())
	assert.True(t, itemTime(&dynamodb.AttributeValue{S: aws.String("not a timestamp")}).IsZero())
}
