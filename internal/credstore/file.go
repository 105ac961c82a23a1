// file.go — durable-уровень в зашифрованном файле.
// Все слоты хранятся одним JSON-документом, зашифрованным AES-256-GCM.
// Запись атомарна: временный файл + rename.
package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileTier — durable-уровень в файле на диске.
type FileTier struct {
	path   string
	sealer *Sealer

	mu sync.Mutex
}

// NewFileTier создаёт файловый уровень.
// path — путь к файлу состояния, sealer — шифрование содержимого.
func NewFileTier(path string, sealer *Sealer) (*FileTier, error) {
	if path == "" {
		return nil, errors.New("не задан путь к файлу хранилища")
	}
	if sealer == nil {
		return nil, errors.New("не задан sealer файлового хранилища")
	}
	return &FileTier{path: path, sealer: sealer}, nil
}

// Path возвращает путь к файлу.
func (f *FileTier) Path() string {
	return f.path
}

// Read реализует Tier.
func (f *FileTier) Read(_ context.Context, slots ...string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(slots))
	for _, s := range slots {
		if v, ok := doc[s]; ok {
			out[s] = v
		}
	}
	return out, nil
}

// Write реализует Tier.
func (f *FileTier) Write(_ context.Context, values map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	for k, v := range values {
		doc[k] = v
	}
	return f.save(doc)
}

// Remove реализует Tier.
func (f *FileTier) Remove(_ context.Context, slots ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		// Повреждённый файл при удалении просто перезаписываем пустым документом
		doc = make(map[string]string)
	}

	changed := false
	for _, s := range slots {
		if _, ok := doc[s]; ok {
			delete(doc, s)
			changed = true
		}
	}

	if len(doc) == 0 {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("удаление файла хранилища: %w", err)
		}
		return nil
	}
	if !changed {
		return nil
	}
	return f.save(doc)
}

// load читает и расшифровывает документ. Отсутствующий файл даёт пустой документ.
// Вызывается под f.mu.
func (f *FileTier) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("чтение файла хранилища: %w", err)
	}

	plaintext, err := f.sealer.Open(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("файл хранилища %s: %w: %w", f.path, ErrCorrupted, err)
	}

	doc := make(map[string]string)
	if err := json.Unmarshal(plaintext, &doc); err != nil {
		return nil, fmt.Errorf("десериализация файла хранилища: %w: %w", ErrCorrupted, err)
	}
	return doc, nil
}

// save шифрует и атомарно записывает документ. Вызывается под f.mu.
func (f *FileTier) save(doc map[string]string) error {
	plaintext, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("сериализация файла хранилища: %w", err)
	}

	sealed, err := f.sealer.Seal(plaintext)
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("создание каталога хранилища: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("создание временного файла: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(sealed); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("запись временного файла: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("права временного файла: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("закрытие временного файла: %w", err)
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("замена файла хранилища: %w", err)
	}
	return nil
}
