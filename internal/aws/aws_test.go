package aws

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaultsRegion(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	cfg, err := LoadConfig(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultRegion, cfg.Region)

	cfg, err = LoadConfig(context.Background(), "ap-northeast-1")
	require.NoError(t, err)
	assert.Equal(t, "ap-northeast-1", cfg.Region)
	assert.NotNil(t, NewDynamoDBClient(cfg))
	assert.NotNil(t, NewSQSClient(cfg))
}
