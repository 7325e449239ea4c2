// Package gdrive ships backups to Google Drive. Provenance rides in
// custom file properties; listings are scoped to one folder when
// configured.
package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/supporttools/GoDBVault/pkg/backup"
)

// Config for a Google Drive destination. Exactly one of CredentialsFile
// or CredentialsJSON supplies the service account.
type Config struct {
	FolderID        string
	CredentialsFile string
	CredentialsJSON string

	// EncryptionKey decrypts artifacts whose properties declare
	// encryption. Restores of encrypted backups fail without it.
	EncryptionKey string
}

// Adapter implements backup.Adapter over the Drive v3 API.
type Adapter struct {
	svc    *drive.Service
	cfg    Config
	logger zerolog.Logger
}

// New authenticates against Drive with the configured service account.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Adapter, error) {
	opts := []option.ClientOption{option.WithScopes(drive.DriveFileScope)}
	switch {
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	default:
		return nil, fmt.Errorf("Google Drive credentials are not configured")
	}

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Drive client: %w", err)
	}

	return &Adapter{
		svc:    svc,
		cfg:    cfg,
		logger: logger.With().Str("adapter", "gdrive").Logger(),
	}, nil
}

// CreateBackup encodes the artifact into a temporary file and uploads it
// as a new Drive file carrying provenance properties.
func (a *Adapter) CreateBackup(ctx context.Context, opts backup.BackupOptions) (*backup.BackupInfo, error) {
	src, err := os.Open(opts.SourcePath)
	if os.IsNotExist(err) {
		return nil, &backup.SourceNotFoundError{Path: opts.SourcePath}
	}
	if err != nil {
		return nil, err
	}
	defer src.Close()

	comp := opts.Compression
	if comp == "" {
		comp = backup.CompressionNone
	}
	now := time.Now()
	name := backup.ArtifactName(opts.ConnectionName, now, comp, opts.Encrypt)

	tmp, err := os.CreateTemp("", "godbvault-upload-*")
	if err != nil {
		return nil, err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if err := backup.EncodeTo(tmp, src, comp, opts.Encrypt, opts.EncryptionKey); err != nil {
		return nil, err
	}
	size, err := tmp.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	properties := map[string]string{
		backup.MetaCompression:  string(comp),
		backup.MetaEncrypted:    strconv.FormatBool(opts.Encrypt),
		backup.MetaDatabaseType: opts.DatabaseType,
		backup.MetaConnectionID: opts.ConnectionID,
		backup.MetaCreatedAt:    now.Format(time.RFC3339),
	}
	for k, v := range opts.Metadata {
		properties[k] = v
	}

	file := &drive.File{Name: name, Properties: properties}
	if a.cfg.FolderID != "" {
		file.Parents = []string{a.cfg.FolderID}
	}

	created, err := a.svc.Files.Create(file).
		Media(tmp).
		Fields("id, name, createdTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, &backup.TransportError{Op: "upload", Err: err}
	}

	a.logger.Info().Str("backup", name).Str("fileId", created.Id).Msg("Uploaded backup")
	return &backup.BackupInfo{
		ID:        backup.DeriveID(backup.NamespaceGDrive, created.Id),
		Name:      name,
		Path:      created.Id,
		Size:      size,
		CreatedAt: now,
		Status:    backup.StatusCompleted,
		Metadata:  properties,
	}, nil
}

// RestoreBackup downloads the Drive file into a temporary the caller
// deletes, undoing compression and encryption.
func (a *Adapter) RestoreBackup(ctx context.Context, info backup.BackupInfo) (string, error) {
	resp, err := a.svc.Files.Get(info.Path).Context(ctx).Download()
	if err != nil {
		if isNotFound(err) {
			return "", &backup.BackupNotFoundError{ID: info.ID}
		}
		return "", &backup.TransportError{Op: "download", Err: err}
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp("", "godbvault-restore-*.backup")
	if err != nil {
		return "", err
	}
	if err := backup.DecodeFrom(tmp, resp.Body, info.Compression(), info.Encrypted(), a.cfg.EncryptionKey); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// ListBackups pages through the folder's backup files.
func (a *Adapter) ListBackups(ctx context.Context) ([]backup.BackupInfo, error) {
	query := "trashed = false and name contains '.backup'"
	if a.cfg.FolderID != "" {
		query = fmt.Sprintf("'%s' in parents and %s", a.cfg.FolderID, query)
	}

	infos := []backup.BackupInfo{}
	pageToken := ""
	for {
		call := a.svc.Files.List().
			Q(query).
			Fields("nextPageToken, files(id, name, size, createdTime, properties)").
			PageSize(1000).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		page, err := call.Do()
		if err != nil {
			return nil, &backup.TransportError{Op: "list", Err: err}
		}

		for _, f := range page.Files {
			created, _ := time.Parse(time.RFC3339, f.CreatedTime)
			metadata := f.Properties
			if metadata == nil {
				comp, encrypted := backup.InferFromName(f.Name)
				metadata = map[string]string{
					backup.MetaCompression: string(comp),
					backup.MetaEncrypted:   strconv.FormatBool(encrypted),
				}
			}
			infos = append(infos, backup.BackupInfo{
				ID:        backup.DeriveID(backup.NamespaceGDrive, f.Id),
				Name:      f.Name,
				Path:      f.Id,
				Size:      f.Size,
				CreatedAt: created,
				Status:    backup.StatusCompleted,
				Metadata:  metadata,
			})
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			return infos, nil
		}
	}
}

// DeleteBackup removes the Drive file with the given id.
func (a *Adapter) DeleteBackup(ctx context.Context, id string) error {
	infos, err := a.ListBackups(ctx)
	if err != nil {
		return err
	}
	for _, info := range infos {
		if info.ID != id {
			continue
		}
		if err := a.svc.Files.Delete(info.Path).Context(ctx).Do(); err != nil {
			return &backup.TransportError{Op: "delete", Err: err}
		}
		a.logger.Info().Str("backup", info.Name).Msg("Deleted backup")
		return nil
	}
	return &backup.BackupNotFoundError{ID: id}
}

// ValidateOptions lists a single file to prove credentials and scope.
func (a *Adapter) ValidateOptions(ctx context.Context) error {
	call := a.svc.Files.List().PageSize(1).Fields("files(id)").Context(ctx)
	if a.cfg.FolderID != "" {
		call = call.Q(fmt.Sprintf("'%s' in parents", a.cfg.FolderID))
	}
	if _, err := call.Do(); err != nil {
		return fmt.Errorf("Google Drive is not reachable: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 404
}
