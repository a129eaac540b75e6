/*
Copyright 2026 ReelScript Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelscript/reelscript/config"
)

func newTestDataSource(t *testing.T) (Datasource, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return Datasource{Conn: db}, mock
}

func TestGetDBConnection_Failure(t *testing.T) {
	instance = nil
	once = sync.Once{}

	mockConfig := &config.Configuration{
		DataSource: config.DataSourceConfig{Dns: "invalid-dns"},
	}

	_, err := GetDBConnection(mockConfig)
	assert.Error(t, err)
}

func TestConnectDB_Failure(t *testing.T) {
	_, err := ConnectDB("postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1")
	assert.Error(t, err)
}
