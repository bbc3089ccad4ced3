package publisher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"riskwatch/internal/models"
	"riskwatch/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultSharedDataPath - путь файла снапшота, который читают другие процессы
const DefaultSharedDataPath = "instance/websocket_data.json"

// FilePublisher записывает снапшот цен в JSON-файл.
//
// Запись атомарная: во временный файл в том же каталоге, затем rename.
// Читатель видит либо старый, либо новый файл целиком. Снапшот с версией
// не новее уже записанной пропускается.
type FilePublisher struct {
	path   string
	logger *utils.Logger

	mu          sync.Mutex
	lastVersion uint64
	written     bool
}

// NewFilePublisher создаёт публикатор; каталог создаётся при первой записи
func NewFilePublisher(path string, logger *utils.Logger) *FilePublisher {
	if path == "" {
		path = DefaultSharedDataPath
	}
	if logger == nil {
		logger = utils.L()
	}
	return &FilePublisher{
		path:   path,
		logger: logger.WithComponent("file_publisher"),
	}
}

// Name - имя для логов и метрик
func (p *FilePublisher) Name() string {
	return "file"
}

// Path - путь файла снапшота
func (p *FilePublisher) Path() string {
	return p.path
}

// Publish записывает снапшот
func (p *FilePublisher) Publish(ctx context.Context, snap *models.PriceSnapshot) error {
	if snap == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.written && snap.Version <= p.lastVersion {
		return nil
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := writeAtomic(p.path, data); err != nil {
		return err
	}

	p.lastVersion = snap.Version
	p.written = true

	p.logger.Debug("price snapshot written",
		utils.Int("prices", len(snap.Prices)),
		utils.Int("subscriptions", len(snap.Subscriptions)))
	return nil
}

// writeAtomic пишет data во временный файл рядом с path и переименовывает его
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
