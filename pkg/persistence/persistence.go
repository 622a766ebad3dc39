// Package persistence stores JSON documents as individual files.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "persistence")

// ErrNotExists is returned by Load when nothing has been saved under the key.
var ErrNotExists = errors.New("persistence data not exists")

type Service interface {
	NewStore(prefix, id, tag string) Store
}

type Store interface {
	Save(data interface{}) error
	Load(data interface{}) error
}

type JSONFileService struct {
	baseDir string
}

func NewJSONFileService(baseDir string) *JSONFileService {
	return &JSONFileService{baseDir: baseDir}
}

func (s *JSONFileService) BaseDir() string { return s.baseDir }

func (s *JSONFileService) NewStore(prefix, id, tag string) Store {
	return &JSONFileStore{service: s, key: fmt.Sprintf("%s:%s:%s", prefix, id, tag)}
}

type JSONFileStore struct {
	service *JSONFileService
	key     string
}

var keySanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func (s *JSONFileStore) filePath() string {
	safe := keySanitizer.ReplaceAllString(s.key, "_")
	return filepath.Join(s.service.baseDir, safe+".json")
}

// Save writes atomically through a temp file and rename.
func (s *JSONFileStore) Save(data interface{}) error {
	log.Debugf("save key=%s", s.key)
	if err := os.MkdirAll(s.service.baseDir, 0o755); err != nil {
		return errors.Wrap(err, "persistence: mkdir")
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "persistence: marshal %s", s.key)
	}
	path := s.filePath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return errors.Wrapf(err, "persistence: write %s", tmp)
	}
	return errors.Wrapf(os.Rename(tmp, path), "persistence: rename %s", path)
}

func (s *JSONFileStore) Load(data interface{}) error {
	log.Debugf("load key=%s", s.key)
	b, err := os.ReadFile(s.filePath())
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExists
		}
		return errors.Wrapf(err, "persistence: read %s", s.key)
	}
	if len(b) == 0 {
		return ErrNotExists
	}
	return errors.Wrapf(json.Unmarshal(b, data), "persistence: decode %s", s.key)
}
