package incident

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/safeglove/internal/config"
	"github.com/oshokin/safeglove/internal/domain/threat"
	"github.com/oshokin/safeglove/internal/wire"
)

// Repository defines persistence operations for the incident history.
type Repository interface {
	Load(ctx context.Context) ([]*threat.Incident, error)
	Save(ctx context.Context, incidents []*threat.Incident) error
}

// FileRepository persists incidents to a JSON file on disk.
// JSON is produced and consumed via protojson so the file matches what the
// status API returns for incidents.
type FileRepository struct {
	// path is the filesystem location of the JSON history file.
	path string
	// mu protects concurrent access to the history file.
	mu sync.Mutex
}

// ErrNotFound is returned when the history file does not exist yet.
var ErrNotFound = errors.New("incident history not found")

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Path returns the location of the history file.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads the incident history from disk.
func (r *FileRepository) Load(_ context.Context) ([]*threat.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read incident file: %w", err)
	}

	var document structpb.Struct
	if err = protojson.Unmarshal(contents, &document); err != nil {
		return nil, fmt.Errorf("decode incident file: %w", err)
	}

	incidents, err := wire.IncidentsFromStruct(&document)
	if err != nil {
		return nil, fmt.Errorf("decode incident file: %w", err)
	}

	return incidents, nil
}

// Save replaces the history on disk. The file is written next to its final
// location and renamed so readers never observe a partial document.
func (r *FileRepository) Save(_ context.Context, incidents []*threat.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	document, err := wire.IncidentsToStruct(incidents)
	if err != nil {
		return err
	}

	marshalOptions := protojson.MarshalOptions{
		Multiline:       true,
		EmitUnpopulated: true,
	}

	data, err := marshalOptions.Marshal(document)
	if err != nil {
		return fmt.Errorf("encode incidents: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(r.path), 0o750); err != nil {
		return fmt.Errorf("create incident directory: %w", err)
	}

	tmp := r.path + ".tmp"
	if err = os.WriteFile(tmp, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write incident file: %w", err)
	}

	if err = os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace incident file: %w", err)
	}

	return nil
}
