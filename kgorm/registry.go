package kgorm

import (
	"fmt"
	"sync"

	"github.com/getkayan/magiclink/core/domain"
	"gorm.io/gorm"
)

// DialectorOpener is an alias for a function that returns a gorm.Dialector
// for a given DSN.
type DialectorOpener = func(string) gorm.Dialector

var (
	registryMu sync.RWMutex
	providers  = make(map[string]DialectorOpener)
)

// Register adds a storage provider to the registry. The standard sqlite,
// postgres, and mysql providers are registered on package init.
func Register(name string, opener DialectorOpener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	providers[name] = opener
}

// NewStorage opens a database using the registered provider and migrates the
// schema unless skipMigrate is set.
func NewStorage(name string, dsn string, cfg *gorm.Config, skipMigrate bool) (domain.Storage, error) {
	registryMu.RLock()
	opener, ok := providers[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("kgorm: unknown storage provider %q", name)
	}

	if cfg == nil {
		cfg = &gorm.Config{}
	}

	db, err := gorm.Open(opener(dsn), cfg)
	if err != nil {
		return nil, err
	}

	repo := NewRepository(db)
	if !skipMigrate {
		if err := repo.AutoMigrate(); err != nil {
			return nil, err
		}
	}
	return repo, nil
}
