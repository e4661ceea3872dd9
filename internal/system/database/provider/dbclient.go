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

package provider

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	dbmodel "github.com/carebridge/consent-api/internal/system/database/model"
	"github.com/carebridge/consent-api/internal/system/database/utils"
)

// DBClientInterface defines the operations stores run against the consent datasource.
type DBClientInterface interface {
	Query(ctx context.Context, query dbmodel.DBQuery, args ...interface{}) ([]map[string]interface{}, error)
	Execute(ctx context.Context, query dbmodel.DBQuery, args ...interface{}) (int64, error)
	BeginTx(ctx context.Context) (dbmodel.TxInterface, error)
	GetDBType() string
}

// DBClient executes DBQuery values on a sqlx connection pool.
type DBClient struct {
	db     *sqlx.DB
	dbType string
}

var _ DBClientInterface = (*DBClient)(nil)

// NewDBClient creates a client for the given connection and database type.
func NewDBClient(db *sqlx.DB, dbType string) DBClientInterface {
	return &DBClient{db: db, dbType: dbType}
}

// GetDBType returns the database type the client resolves queries for.
func (c *DBClient) GetDBType() string {
	return c.dbType
}

// Query runs a select and returns the rows keyed by upper case column name.
func (c *DBClient) Query(ctx context.Context, query dbmodel.DBQuery, args ...interface{}) ([]map[string]interface{}, error) {
	return runQuery(ctx, c.db, c.dbType, query, args)
}

// Execute runs a statement and returns the number of affected rows.
func (c *DBClient) Execute(ctx context.Context, query dbmodel.DBQuery, args ...interface{}) (int64, error) {
	return runExec(ctx, c.db, c.dbType, query, args)
}

// BeginTx starts a transaction bound to ctx.
func (c *DBClient) BeginTx(ctx context.Context) (dbmodel.TxInterface, error) {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &dbTx{ctx: ctx, tx: tx, dbType: c.dbType}, nil
}

// dbTx implements dbmodel.TxInterface over a sqlx transaction.
type dbTx struct {
	ctx    context.Context
	tx     *sqlx.Tx
	dbType string
}

func (t *dbTx) Execute(query dbmodel.DBQuery, args ...interface{}) (int64, error) {
	return runExec(t.ctx, t.tx, t.dbType, query, args)
}

func (t *dbTx) Query(query dbmodel.DBQuery, args ...interface{}) ([]map[string]interface{}, error) {
	return runQuery(t.ctx, t.tx, t.dbType, query, args)
}

func (t *dbTx) Commit() error {
	return t.tx.Commit()
}

func (t *dbTx) Rollback() error {
	return t.tx.Rollback()
}

// prepare resolves the dialect variant, expands slice arguments and rebinds placeholders.
func prepare(dbType string, query dbmodel.DBQuery, args []interface{}) (string, []interface{}, error) {
	sqlText := query.GetQuery(dbType)
	expanded, expandedArgs, err := sqlx.In(sqlText, args...)
	if err != nil {
		return "", nil, fmt.Errorf("failed to expand query %s: %w", query.ID, err)
	}
	if dbType == "postgres" {
		expanded = utils.ConvertToPostgresParams(expanded)
	}
	return expanded, expandedArgs, nil
}

func runQuery(ctx context.Context, q sqlx.QueryerContext, dbType string, query dbmodel.DBQuery,
	args []interface{}) ([]map[string]interface{}, error) {
	sqlText, sqlArgs, err := prepare(dbType, query, args)
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryxContext(ctx, sqlText, sqlArgs...)
	if err != nil {
		return nil, fmt.Errorf("query %s failed: %w", query.ID, err)
	}
	defer rows.Close()

	results := make([]map[string]interface{}, 0)
	for rows.Next() {
		raw := make(map[string]interface{})
		if err := rows.MapScan(raw); err != nil {
			return nil, fmt.Errorf("failed to scan row for %s: %w", query.ID, err)
		}
		row := make(map[string]interface{}, len(raw))
		for key, value := range raw {
			if b, ok := value.([]byte); ok {
				value = string(b)
			}
			row[strings.ToUpper(key)] = value
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows for %s: %w", query.ID, err)
	}
	return results, nil
}

func runExec(ctx context.Context, e sqlx.ExecerContext, dbType string, query dbmodel.DBQuery,
	args []interface{}) (int64, error) {
	sqlText, sqlArgs, err := prepare(dbType, query, args)
	if err != nil {
		return 0, err
	}

	var result sql.Result
	result, err = e.ExecContext(ctx, sqlText, sqlArgs...)
	if err != nil {
		return 0, fmt.Errorf("execute %s failed: %w", query.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows for %s: %w", query.ID, err)
	}
	return affected, nil
}
