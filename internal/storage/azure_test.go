package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Log-Tools/secops-forwarder/internal/config"
)

func TestCreateClient_ConnectionString(t *testing.T) {
	factory := NewAzureClientFactory()

	client, err := factory.CreateClient(config.StorageAccount{
		Name:             "acctone",
		ConnectionString: "DefaultEndpointsProtocol=https;AccountName=acctone;AccountKey=YWNjb3VudGtleQ==;EndpointSuffix=core.windows.net",
	})
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.Contains(t, client.URL(), "acctone")
}

func TestCreateClient_InvalidConnectionString(t *testing.T) {
	factory := NewAzureClientFactory()

	_, err := factory.CreateClient(config.StorageAccount{
		Name:             "acctone",
		ConnectionString: "not a connection string",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acctone")
}

func TestCreateClient_SharedKey(t *testing.T) {
	factory := NewAzureClientFactory()

	client, err := factory.CreateClient(config.StorageAccount{
		Name:       "acctone",
		AccountURL: "https://acctone.blob.core.windows.net",
		AccessKey:  "YWNjb3VudGtleQ==",
	})
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.Equal(t, "https://acctone.blob.core.windows.net/", client.URL())
}

func TestCreateClient_InvalidSharedKey(t *testing.T) {
	factory := NewAzureClientFactory()

	_, err := factory.CreateClient(config.StorageAccount{
		Name:       "acctone",
		AccountURL: "https://acctone.blob.core.windows.net",
		AccessKey:  "%%% not base64 %%%",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shared key credential")
}
