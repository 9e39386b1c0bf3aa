package db

import (
	_ "github.com/go-sql-driver/mysql"
)

// NewMySQL opens the primary store.
// DSN format: "user:password@tcp(host:port)/dbname?parseTime=true&loc=UTC"
func NewMySQL(config *PoolConfig) (*SQLDatabase, error) {
	return openPool("mysql", config)
}
