/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

// Package provider provides functionality for managing database connections and clients.
package provider

import (
	"fmt"
	"sync"

	"github.com/carebridge/consent-api/internal/system/database"
	"github.com/carebridge/consent-api/internal/system/log"
)

// DBProviderInterface defines the interface for getting database clients.
type DBProviderInterface interface {
	GetConsentDBClient() (DBClientInterface, error)
}

// DBProviderCloser is a separate interface for closing the provider.
// Only the lifecycle manager should use this interface.
type DBProviderCloser interface {
	Close() error
}

type dbProvider struct {
	consentClient DBClientInterface
	consentMutex  sync.RWMutex
	db            *database.DB
}

var (
	instance *dbProvider
	once     sync.Once
)

// InitDBProvider initializes the singleton instance of DBProvider with the database connection.
func InitDBProvider(db *database.DB) {
	once.Do(func() {
		instance = &dbProvider{db: db}
	})
}

// GetDBProvider returns the instance of DBProvider.
func GetDBProvider() DBProviderInterface {
	if instance == nil {
		panic("DBProvider not initialized. Call InitDBProvider first.")
	}
	return instance
}

// GetDBProviderCloser returns the DBProvider with closing capability.
// This should only be called from the main lifecycle manager.
func GetDBProviderCloser() DBProviderCloser {
	if instance == nil {
		panic("DBProvider not initialized. Call InitDBProvider first.")
	}
	return instance
}

// GetConsentDBClient returns the client for the consent datasource, creating it on first use.
func (d *dbProvider) GetConsentDBClient() (DBClientInterface, error) {
	d.consentMutex.RLock()
	if d.consentClient != nil {
		defer d.consentMutex.RUnlock()
		return d.consentClient, nil
	}
	d.consentMutex.RUnlock()

	d.consentMutex.Lock()
	defer d.consentMutex.Unlock()

	// Double-check after acquiring write lock
	if d.consentClient != nil {
		return d.consentClient, nil
	}
	if d.db == nil || d.db.DB == nil {
		return nil, fmt.Errorf("consent database is not initialized")
	}

	d.consentClient = NewDBClient(d.db.DB, d.db.Type())
	log.GetLogger().With(log.String(log.LoggerKeyComponentName, "DBProvider")).
		Debug("Consent DB client initialized", log.String("type", d.db.Type()))
	return d.consentClient, nil
}

// Close drops the client and closes the underlying pool.
func (d *dbProvider) Close() error {
	d.consentMutex.Lock()
	defer d.consentMutex.Unlock()

	d.consentClient = nil
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	return nil
}
