package stores

import (
	"context"
	"errors"
	"fmt"

	dbmodel "github.com/carebridge/consent-api/internal/system/database/model"
	"github.com/carebridge/consent-api/internal/system/database/provider"
	"github.com/carebridge/consent-api/internal/system/log"
	"github.com/carebridge/consent-api/internal/system/stores/interfaces"
)

// StoreRegistry holds references to all stores in the application so a
// service can compose writes across modules in one transaction.
type StoreRegistry struct {
	dbClient provider.DBClientInterface

	ConsentRequest interfaces.ConsentRequestStore
	AccessGrant    interfaces.AccessGrantStore
	Notification   interfaces.NotificationStore
}

// NewStoreRegistry creates a new store registry with all initialized stores
func NewStoreRegistry(
	dbClient provider.DBClientInterface,
	consentRequestStore interfaces.ConsentRequestStore,
	accessGrantStore interfaces.AccessGrantStore,
	notificationStore interfaces.NotificationStore,
) *StoreRegistry {
	return &StoreRegistry{
		dbClient:       dbClient,
		ConsentRequest: consentRequestStore,
		AccessGrant:    accessGrantStore,
		Notification:   notificationStore,
	}
}

// ExecuteTransaction runs queries in order inside one transaction and rolls
// back on the first error, which is returned unwrapped.
func (r *StoreRegistry) ExecuteTransaction(ctx context.Context, queries []func(tx dbmodel.TxInterface) error) error {
	logger := log.GetLogger()
	logger.Debug("Starting transaction", log.Int("query_count", len(queries)))

	tx, err := r.dbClient.BeginTx(ctx)
	if err != nil {
		logger.Error("Failed to begin transaction", log.Error(err))
		return err
	}

	for i, query := range queries {
		if err := query(tx); err != nil {
			logger.Debug("Transaction query failed, rolling back",
				log.Error(err),
				log.Int("failed_query_index", i),
			)
			if rbErr := tx.Rollback(); rbErr != nil {
				return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
			}
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		logger.Error("Failed to commit transaction", log.Error(err))
		return err
	}

	logger.Debug("Transaction committed successfully", log.Int("query_count", len(queries)))
	return nil
}
