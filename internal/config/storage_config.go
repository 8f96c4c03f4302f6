package config

// StorageBackend selects which grant store implementation the server runs on.
type StorageBackend string

const (
	StorageMemory StorageBackend = "memory"
	StorageRedis  StorageBackend = "redis"
	StorageSQLite StorageBackend = "sqlite"
)

type StorageConfig interface {
	GetStorageBackend() StorageBackend
	GetRedisAddr() string
	GetRedisPassword() string
	GetSQLitePath() string
}

type Storage struct{}

var _ StorageConfig = Storage{}

func (Storage) GetStorageBackend() StorageBackend {
	switch StorageBackend(GetEnv("STORAGE_BACKEND", "memory")) {
	case StorageRedis:
		return StorageRedis
	case StorageSQLite:
		return StorageSQLite
	default:
		return StorageMemory
	}
}

func (Storage) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}

func (Storage) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Storage) GetSQLitePath() string {
	return GetEnv("SQLITE_PATH", "./data/grants.db")
}
