package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"excelimages/internal/models"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	selectSequencedSQL = `SELECT id, sequence_number, customer_name, product_images FROM order_items WHERE sequence_number IS NOT NULL ORDER BY sequence_number`
	updateProductsSQL  = `UPDATE order_items SET product_images = \$1::jsonb, updated_at = NOW\(\) WHERE id = \$2`

	urlRow2 = "http://localhost:5000/uploads/products/mirin-row2-image1.png"
	urlRow3 = "http://localhost:5000/uploads/products/mirin-row3-image2.png"
)

var orderItemColumns = []string{"id", "sequence_number", "customer_name", "product_images"}

type RecordUpdaterTestSuite struct {
	suite.Suite
	mock    pgxmock.PgxPoolIface
	logs    *observer.ObservedLogs
	log     *zap.Logger
	context context.Context
}

func (suite *RecordUpdaterTestSuite) SetupTest() {
	mock, err := pgxmock.NewPool()
	require.NoError(suite.T(), err)
	suite.mock = mock

	core, logs := observer.New(zapcore.DebugLevel)
	suite.logs = logs
	suite.log = zap.New(core)
	suite.context = context.Background()
}

func (suite *RecordUpdaterTestSuite) TearDownTest() {
	assert.NoError(suite.T(), suite.mock.ExpectationsWereMet())
	suite.mock.Close()
}

func TestRecordUpdaterTestSuite(t *testing.T) {
	suite.Run(t, new(RecordUpdaterTestSuite))
}

func (suite *RecordUpdaterTestSuite) updater(dryRun bool) *RecordUpdater {
	return NewRecordUpdater(suite.mock, dryRun, suite.log)
}

func (suite *RecordUpdaterTestSuite) TestApply_AttachesURLToMatchingSequence() {
	id := uuid.New()

	suite.mock.ExpectBegin()
	suite.mock.ExpectQuery(selectSequencedSQL).
		WillReturnRows(pgxmock.NewRows(orderItemColumns).
			AddRow(id, intPtr(1), stringPtr("คุณสมชาย"), nil))
	suite.mock.ExpectExec(updateProductsSQL).
		WithArgs([]byte(`["`+urlRow2+`"]`), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	suite.mock.ExpectCommit()

	result, err := suite.updater(false).Apply(suite.context, models.RowURLMap{2: {urlRow2}})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), &models.UpdateResult{Selected: 1, Updated: 1}, result)
}

func (suite *RecordUpdaterTestSuite) TestApply_SkipsRecordWithoutImages() {
	matched, unmatched := uuid.New(), uuid.New()

	suite.mock.ExpectBegin()
	suite.mock.ExpectQuery(selectSequencedSQL).
		WillReturnRows(pgxmock.NewRows(orderItemColumns).
			AddRow(matched, intPtr(1), nil, []byte(`[]`)).
			AddRow(unmatched, intPtr(7), stringPtr("Tanaka"), []byte(`["http://cdn.example.com/keep.png"]`)))
	suite.mock.ExpectExec(updateProductsSQL).
		WithArgs([]byte(`["`+urlRow2+`"]`), matched).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	suite.mock.ExpectCommit()

	result, err := suite.updater(false).Apply(suite.context, models.RowURLMap{2: {urlRow2}})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 2, result.Selected)
	assert.Equal(suite.T(), 1, result.Updated)
	assert.Equal(suite.T(), 1, result.Skipped)
}

func (suite *RecordUpdaterTestSuite) TestApply_RerunIsUnchanged() {
	id := uuid.New()

	suite.mock.ExpectBegin()
	suite.mock.ExpectQuery(selectSequencedSQL).
		WillReturnRows(pgxmock.NewRows(orderItemColumns).
			AddRow(id, intPtr(1), stringPtr("A"), []byte(`["`+urlRow2+`"]`)))
	suite.mock.ExpectCommit()

	result, err := suite.updater(false).Apply(suite.context, models.RowURLMap{2: {urlRow2}})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 0, result.Updated)
	assert.Equal(suite.T(), 1, result.Unchanged)
}

func (suite *RecordUpdaterTestSuite) TestApply_KeepsStoredURLsFirst() {
	id := uuid.New()

	suite.mock.ExpectBegin()
	suite.mock.ExpectQuery(selectSequencedSQL).
		WillReturnRows(pgxmock.NewRows(orderItemColumns).
			AddRow(id, intPtr(2), nil, []byte(`["http://cdn.example.com/manual.png", "`+urlRow3+`"]`)))
	suite.mock.ExpectExec(updateProductsSQL).
		WithArgs([]byte(`["http://cdn.example.com/manual.png","`+urlRow3+`","`+urlRow2+`"]`), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	suite.mock.ExpectCommit()

	result, err := suite.updater(false).Apply(suite.context, models.RowURLMap{3: {urlRow3, urlRow2}})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, result.Updated)
}

func (suite *RecordUpdaterTestSuite) TestApply_StringifiedJSON() {
	id := uuid.New()

	suite.mock.ExpectBegin()
	suite.mock.ExpectQuery(selectSequencedSQL).
		WillReturnRows(pgxmock.NewRows(orderItemColumns).
			AddRow(id, intPtr(1), nil, []byte(`"[\"http://cdn.example.com/old.png\"]"`)))
	suite.mock.ExpectExec(updateProductsSQL).
		WithArgs([]byte(`["http://cdn.example.com/old.png","`+urlRow2+`"]`), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	suite.mock.ExpectCommit()

	result, err := suite.updater(false).Apply(suite.context, models.RowURLMap{2: {urlRow2}})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, result.Updated)
}

func (suite *RecordUpdaterTestSuite) TestApply_MalformedJSONLogsWarning() {
	id := uuid.New()

	suite.mock.ExpectBegin()
	suite.mock.ExpectQuery(selectSequencedSQL).
		WillReturnRows(pgxmock.NewRows(orderItemColumns).
			AddRow(id, intPtr(1), nil, []byte(`"not json"`)))
	suite.mock.ExpectExec(updateProductsSQL).
		WithArgs([]byte(`["`+urlRow2+`"]`), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	suite.mock.ExpectCommit()

	result, err := suite.updater(false).Apply(suite.context, models.RowURLMap{2: {urlRow2}})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, result.Updated)

	warnings := suite.logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(suite.T(), warnings, 1)
	fields := warnings[0].ContextMap()
	assert.Equal(suite.T(), id.String(), fields["order_item_id"])
	assert.Equal(suite.T(), `"not json"`, fields["product_images"])
}

func (suite *RecordUpdaterTestSuite) TestApply_KeepsNonStringElements() {
	id := uuid.New()

	suite.mock.ExpectBegin()
	suite.mock.ExpectQuery(selectSequencedSQL).
		WillReturnRows(pgxmock.NewRows(orderItemColumns).
			AddRow(id, intPtr(1), stringPtr("Tanaka"), []byte(`["http://cdn.example.com/keep.png", 42, {"url": "`+urlRow2+`"}, null]`)))
	suite.mock.ExpectExec(updateProductsSQL).
		WithArgs([]byte(`["http://cdn.example.com/keep.png",42,{"url":"`+urlRow2+`"},null,"`+urlRow2+`"]`), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	suite.mock.ExpectCommit()

	result, err := suite.updater(false).Apply(suite.context, models.RowURLMap{2: {urlRow2}})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, result.Updated)
	assert.Zero(suite.T(), suite.logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func (suite *RecordUpdaterTestSuite) TestApply_MixedArrayRerunIsUnchanged() {
	id := uuid.New()

	suite.mock.ExpectBegin()
	suite.mock.ExpectQuery(selectSequencedSQL).
		WillReturnRows(pgxmock.NewRows(orderItemColumns).
			AddRow(id, intPtr(1), nil, []byte(`[42, "`+urlRow2+`"]`)))
	suite.mock.ExpectCommit()

	result, err := suite.updater(false).Apply(suite.context, models.RowURLMap{2: {urlRow2}})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, result.Unchanged)
}

func (suite *RecordUpdaterTestSuite) TestApply_NonArrayValueRollsBack() {
	first, second := uuid.New(), uuid.New()

	suite.mock.ExpectBegin()
	suite.mock.ExpectQuery(selectSequencedSQL).
		WillReturnRows(pgxmock.NewRows(orderItemColumns).
			AddRow(first, intPtr(1), nil, nil).
			AddRow(second, intPtr(2), nil, []byte(`{"main": "http://cdn.example.com/keep.png"}`)))
	suite.mock.ExpectExec(updateProductsSQL).
		WithArgs([]byte(`["`+urlRow2+`"]`), first).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	suite.mock.ExpectRollback()

	result, err := suite.updater(false).Apply(suite.context, models.RowURLMap{2: {urlRow2}, 3: {urlRow3}})
	require.Error(suite.T(), err)
	assert.Contains(suite.T(), err.Error(), second.String())
	assert.Contains(suite.T(), err.Error(), "not a JSON array")
	assert.Nil(suite.T(), result)
	assert.Zero(suite.T(), suite.logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func (suite *RecordUpdaterTestSuite) TestApply_UpdateErrorRollsBack() {
	first, second := uuid.New(), uuid.New()

	suite.mock.ExpectBegin()
	suite.mock.ExpectQuery(selectSequencedSQL).
		WillReturnRows(pgxmock.NewRows(orderItemColumns).
			AddRow(first, intPtr(1), nil, nil).
			AddRow(second, intPtr(2), nil, nil))
	suite.mock.ExpectExec(updateProductsSQL).
		WithArgs([]byte(`["`+urlRow2+`"]`), first).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	suite.mock.ExpectExec(updateProductsSQL).
		WithArgs([]byte(`["`+urlRow3+`"]`), second).
		WillReturnError(errors.New("deadlock detected"))
	suite.mock.ExpectRollback()

	result, err := suite.updater(false).Apply(suite.context, models.RowURLMap{2: {urlRow2}, 3: {urlRow3}})
	assert.Error(suite.T(), err)
	assert.Contains(suite.T(), err.Error(), "deadlock detected")
	assert.Nil(suite.T(), result)
}

func (suite *RecordUpdaterTestSuite) TestApply_QueryErrorRollsBack() {
	suite.mock.ExpectBegin()
	suite.mock.ExpectQuery(selectSequencedSQL).
		WillReturnError(errors.New("relation \"order_items\" does not exist"))
	suite.mock.ExpectRollback()

	result, err := suite.updater(false).Apply(suite.context, models.RowURLMap{2: {urlRow2}})
	assert.Error(suite.T(), err)
	assert.Contains(suite.T(), err.Error(), "failed to list order items")
	assert.Nil(suite.T(), result)
}

func (suite *RecordUpdaterTestSuite) TestApply_BeginError() {
	suite.mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	result, err := suite.updater(false).Apply(suite.context, models.RowURLMap{})
	assert.Error(suite.T(), err)
	assert.Contains(suite.T(), err.Error(), "failed to begin transaction")
	assert.Nil(suite.T(), result)
}

func (suite *RecordUpdaterTestSuite) TestApply_CommitError() {
	suite.mock.ExpectBegin()
	suite.mock.ExpectQuery(selectSequencedSQL).
		WillReturnRows(pgxmock.NewRows(orderItemColumns))
	suite.mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

	result, err := suite.updater(false).Apply(suite.context, models.RowURLMap{})
	assert.Error(suite.T(), err)
	assert.Contains(suite.T(), err.Error(), "failed to commit transaction")
	assert.Nil(suite.T(), result)
}

func (suite *RecordUpdaterTestSuite) TestApply_DryRunRollsBack() {
	id := uuid.New()

	suite.mock.ExpectBegin()
	suite.mock.ExpectQuery(selectSequencedSQL).
		WillReturnRows(pgxmock.NewRows(orderItemColumns).
			AddRow(id, intPtr(1), nil, nil))
	suite.mock.ExpectExec(updateProductsSQL).
		WithArgs([]byte(`["`+urlRow2+`"]`), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	suite.mock.ExpectRollback()

	result, err := suite.updater(true).Apply(suite.context, models.RowURLMap{2: {urlRow2}})
	require.NoError(suite.T(), err)
	assert.True(suite.T(), result.DryRun)
	assert.Equal(suite.T(), 1, result.Updated)
}

func (suite *RecordUpdaterTestSuite) TestApply_LogsFirstTenUpdatesAtInfo() {
	rows := pgxmock.NewRows(orderItemColumns)
	rowURLs := models.RowURLMap{}
	suite.mock.ExpectBegin()
	ids := make([]uuid.UUID, 12)
	for i := range ids {
		ids[i] = uuid.New()
		rows.AddRow(ids[i], intPtr(i+1), nil, nil)
		rowURLs[i+2] = []string{"u"}
	}
	suite.mock.ExpectQuery(selectSequencedSQL).WillReturnRows(rows)
	for _, id := range ids {
		suite.mock.ExpectExec(updateProductsSQL).
			WithArgs([]byte(`["u"]`), id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	}
	suite.mock.ExpectCommit()

	result, err := suite.updater(false).Apply(suite.context, rowURLs)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 12, result.Updated)

	updated := suite.logs.FilterMessage("Updated order item")
	assert.Equal(suite.T(), 12, updated.Len())
	assert.Equal(suite.T(), 10, updated.FilterLevelExact(zapcore.InfoLevel).Len())
	assert.Equal(suite.T(), 1, suite.logs.FilterMessageSnippet("Continuing updates").Len())
}

func TestDecodeImageList(t *testing.T) {
	tests := []struct {
		name       string
		raw        []byte
		want       string
		wantLegacy bool
		wantErr    bool
	}{
		{name: "nil", raw: nil, want: `[]`},
		{name: "json null", raw: []byte(`null`), want: `[]`},
		{name: "empty array", raw: []byte(`[]`), want: `[]`},
		{name: "array", raw: []byte(`["a", "b"]`), want: `["a","b"]`},
		{name: "mixed array", raw: []byte(`["a", 1, {"b": 2}, null]`), want: `["a",1,{"b":2},null]`},
		{name: "stringified array", raw: []byte(`"[\"a\"]"`), want: `["a"]`},
		{name: "stringified garbage", raw: []byte(`"oops"`), wantLegacy: true},
		{name: "stringified object", raw: []byte(`"{}"`), wantLegacy: true},
		{name: "object", raw: []byte(`{"a": 1}`), wantErr: true},
		{name: "number", raw: []byte(`7`), wantErr: true},
		{name: "truncated", raw: []byte(`["a"`), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeImageList(tt.raw)
			if tt.wantLegacy {
				assert.ErrorIs(t, err, errUnreadableLegacy)
				return
			}
			if tt.wantErr {
				assert.Error(t, err)
				assert.NotErrorIs(t, err, errUnreadableLegacy)
				return
			}
			require.NoError(t, err)
			encoded, err := json.Marshal(got)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(encoded))
		})
	}
}

func TestMergeImageURLs(t *testing.T) {
	tests := []struct {
		name        string
		current     string
		add         []string
		want        string
		wantChanged bool
	}{
		{name: "into empty", current: `[]`, add: []string{"a"}, want: `["a"]`, wantChanged: true},
		{name: "all present", current: `["a","b"]`, add: []string{"b", "a"}, want: `["a","b"]`, wantChanged: false},
		{name: "append new after stored", current: `["x"]`, add: []string{"a", "x", "b"}, want: `["x","a","b"]`, wantChanged: true},
		{name: "duplicates in add", current: `[]`, add: []string{"a", "a"}, want: `["a"]`, wantChanged: true},
		{name: "nothing to add", current: `["x"]`, add: nil, want: `["x"]`, wantChanged: false},
		{name: "non-string elements kept", current: `[1,"x",true]`, add: []string{"x", "a"}, want: `[1,"x",true,"a"]`, wantChanged: true},
		{name: "object never matches url", current: `[{"url":"a"}]`, add: []string{"a"}, want: `[{"url":"a"},"a"]`, wantChanged: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var current []json.RawMessage
			require.NoError(t, json.Unmarshal([]byte(tt.current), &current))

			got, changed, err := mergeImageURLs(current, tt.add)
			require.NoError(t, err)
			encoded, err := json.Marshal(got)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(encoded))
			assert.Equal(t, tt.wantChanged, changed)
		})
	}
}

func intPtr(i int) *int {
	return &i
}

func stringPtr(s string) *string {
	return &s
}
