package mybatis

import (
	"context"
	"reflect"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cursorTestRow struct {
	ID   int64
	Name string
}

func newCursorTestConfig(t *testing.T) (*Configuration, *MappedStatement) {
	t.Helper()
	config := NewConfiguration()
	rm := &ResultMap{ID: "ns.RowResult", Type: reflect.TypeOf(cursorTestRow{})}
	require.NoError(t, config.addResultMap(rm))

	ms := &MappedStatement{
		ID:            "ns.SelectAll",
		CommandType:   SqlCommandSelect,
		StatementType: StatementTypePrepared,
		SqlSource:     &StaticSqlSource{Sql: "SELECT id, name FROM rows"},
		ResultMapIDs:  []string{"RowResult"},
		Config:        config,
	}
	require.NoError(t, config.addMappedStatement(ms))
	return config, ms
}

func TestQueryCursorStreamsRowsOneAtATime(t *testing.T) {
	config, ms := newCursorTestConfig(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	tx := &poolTransaction{db: db}

	mock.ExpectPrepare("SELECT id, name FROM rows")
	mock.ExpectQuery("SELECT id, name FROM rows").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), "a").
			AddRow(int64(2), "b"))

	cursor, err := newQueryCursor(context.Background(), config, tx, ms, nil, NoRowBounds)
	require.NoError(t, err)
	defer cursor.Close()

	var got []cursorTestRow
	for cursor.Next() {
		row := cursor.Current().(*cursorTestRow)
		got = append(got, *row)
	}
	require.NoError(t, cursor.Err())
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "b", got[1].Name)
}

func TestQueryCursorHonorsRowBoundsOffsetAndLimit(t *testing.T) {
	config, ms := newCursorTestConfig(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	tx := &poolTransaction{db: db}

	mock.ExpectPrepare("SELECT id, name FROM rows")
	mock.ExpectQuery("SELECT id, name FROM rows").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), "a").
			AddRow(int64(2), "b").
			AddRow(int64(3), "c"))

	cursor, err := newQueryCursor(context.Background(), config, tx, ms, nil, RowBounds{Offset: 1, Limit: 1})
	require.NoError(t, err)
	defer cursor.Close()

	var got []cursorTestRow
	for cursor.Next() {
		got = append(got, *cursor.Current().(*cursorTestRow))
	}
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Name)
}

func TestQueryCursorRejectsStatementWithoutResultMap(t *testing.T) {
	config := NewConfiguration()
	ms := &MappedStatement{ID: "ns.NoMap", SqlSource: &StaticSqlSource{Sql: "SELECT 1"}}
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	tx := &poolTransaction{db: db}

	_, err = newQueryCursor(context.Background(), config, tx, ms, nil, NoRowBounds)
	assert.Error(t, err)
}

func TestQueryCursorRejectsNestedResultMap(t *testing.T) {
	config := NewConfiguration()
	rm := &ResultMap{ID: "ns.Nested", Type: reflect.TypeOf(cursorTestRow{}), HasNestedMaps: true}
	require.NoError(t, config.addResultMap(rm))
	ms := &MappedStatement{ID: "ns.SelectNested", SqlSource: &StaticSqlSource{Sql: "SELECT 1"}, ResultMapIDs: []string{"Nested"}}
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	tx := &poolTransaction{db: db}

	_, err = newQueryCursor(context.Background(), config, tx, ms, nil, NoRowBounds)
	assert.Error(t, err)
}

func TestQueryCursorCloseIsIdempotent(t *testing.T) {
	config, ms := newCursorTestConfig(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	tx := &poolTransaction{db: db}

	mock.ExpectPrepare("SELECT id, name FROM rows")
	mock.ExpectQuery("SELECT id, name FROM rows").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

	cursor, err := newQueryCursor(context.Background(), config, tx, ms, nil, NoRowBounds)
	require.NoError(t, err)
	require.NoError(t, cursor.Close())
	require.NoError(t, cursor.Close())
}
