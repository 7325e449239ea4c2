// Package adapters resolves backup destinations from flat string
// configuration, the shape scheduled jobs and CLI flags arrive in.
package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/supporttools/GoDBVault/pkg/backup"
	"github.com/supporttools/GoDBVault/pkg/backup/gdrive"
	"github.com/supporttools/GoDBVault/pkg/backup/local"
	"github.com/supporttools/GoDBVault/pkg/backup/s3"
)

// New builds the destination adapter named by adapterType. An empty
// type selects the local filesystem.
func New(ctx context.Context, adapterType string, config map[string]string, logger zerolog.Logger) (backup.Adapter, error) {
	if config == nil {
		config = map[string]string{}
	}

	switch strings.ToLower(adapterType) {
	case "", "local":
		return local.New(local.Config{
			Directory:     config["directory"],
			EncryptionKey: config["encryptionKey"],
		}, logger), nil

	case "s3":
		return s3.New(ctx, s3.Config{
			Endpoint:        config["endpoint"],
			Region:          config["region"],
			Bucket:          config["bucket"],
			Prefix:          config["prefix"],
			AccessKeyID:     config["accessKeyId"],
			SecretAccessKey: config["secretAccessKey"],
			UsePathStyle:    strings.EqualFold(config["pathStyle"], "true"),
			EncryptionKey:   config["encryptionKey"],
		}, logger)

	case "googledrive", "gdrive":
		return gdrive.New(ctx, gdrive.Config{
			FolderID:        config["folderId"],
			CredentialsFile: config["credentialsFile"],
			CredentialsJSON: config["credentialsJson"],
			EncryptionKey:   config["encryptionKey"],
		}, logger)

	default:
		return nil, fmt.Errorf("unknown backup adapter type %q", adapterType)
	}
}
