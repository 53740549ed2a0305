package content

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

const blobScheme = "azblob://"

// BlobLoader reads azblob://container/key references from Azure Blob Storage.
type BlobLoader struct {
	client *azblob.Client
}

func NewBlobLoader(connectionString string) (*BlobLoader, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &BlobLoader{client: client}, nil
}

func (l *BlobLoader) Load(ctx context.Context, ref string) ([]byte, error) {
	container, key, err := parseBlobRef(ref)
	if err != nil {
		return nil, err
	}

	response, err := l.client.DownloadStream(ctx, container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("download blob %s: %w", ref, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxContentBytes))
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", ref, err)
	}
	return body, nil
}

func parseBlobRef(ref string) (string, string, error) {
	rest := strings.TrimPrefix(ref, blobScheme)
	container, key, ok := strings.Cut(rest, "/")
	if !ok || container == "" || key == "" || strings.Contains(key, "..") {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidRef, ref)
	}
	return container, key, nil
}
