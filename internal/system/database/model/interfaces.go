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

package model

// TxInterface is a unit of work bound to a single database transaction.
// Statements run on the context the transaction was started with.
type TxInterface interface {
	// Execute runs a statement and returns the number of affected rows.
	Execute(query DBQuery, args ...interface{}) (int64, error)
	// Query runs a select and returns each row as a column name keyed map.
	Query(query DBQuery, args ...interface{}) ([]map[string]interface{}, error)
	Commit() error
	Rollback() error
}
