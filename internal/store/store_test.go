package store

import (
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestRoutesForCampaign(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, area_name, campaign_id.*FROM target_areas.*WHERE campaign_id`).
		WithArgs("10c1ee37-0000-0000-0000-000000000000").
		WillReturnRows(sqlmock.NewRows([]string{"id", "area_name", "campaign_id", "sector", "outcode"}).
			AddRow("r1", "Handforth North", "10c1ee37-0000-0000-0000-000000000000", "SK9 3", "SK9").
			AddRow("r2", "Handforth South", "10c1ee37-0000-0000-0000-000000000000", "SK9 3", "SK9"))

	routes, err := s.RoutesForCampaign("10c1ee37-0000-0000-0000-000000000000")
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.Equal(t, "Handforth North", routes[0].Name)
	assert.Equal(t, "SK9 3", routes[0].Sector)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoutesForCampaignAll(t *testing.T) {
	s, mock := newMockStore(t)

	// "all" must not add a campaign filter.
	mock.ExpectQuery(`SELECT id, area_name, campaign_id.*FROM target_areas\s+ORDER BY area_name`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "area_name", "campaign_id", "sector", "outcode"}).
			AddRow("r1", "Handforth North", "c1", "SK9 3", "SK9"))

	routes, err := s.RoutesForCampaign("all")
	require.NoError(t, err)
	assert.Len(t, routes, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostcodesForRouteNullableColumns(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT postcode, lat, lng, oa21_code, target_area_id.*FROM route_postcodes`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"postcode", "lat", "lng", "oa21_code", "target_area_id"}).
			AddRow("SK9 3AA", 53.35, -2.12, "E00025680", "r1").
			AddRow("SK9 3AB", nil, nil, nil, "r1"))

	postcodes, err := s.PostcodesForRoute("r1")
	require.NoError(t, err)
	require.Len(t, postcodes, 2)

	assert.NotNil(t, postcodes[0].Lat)
	assert.Nil(t, postcodes[1].Lat)
	assert.Nil(t, postcodes[1].OA21Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRouteStreets(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE target_areas SET streets`).
		WithArgs("r1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpdateRouteStreets("r1", []string{"Oak Road", "Station Road"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPostcodesConflictDoNothing(t *testing.T) {
	s, mock := newMockStore(t)

	lat, lng := 53.35, -2.12
	oa := "E00025680"

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO route_postcodes.*ON CONFLICT \(postcode\) DO NOTHING`)
	prep.ExpectExec().WithArgs("SK9 3AA", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "r1").WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs("SK9 3AB", nil, nil, nil, "r1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := s.InsertPostcodes([]Postcode{
		{Postcode: "SK9 3AA", Lat: &lat, Lng: &lng, OA21Code: &oa, RouteID: "r1"},
		{Postcode: "SK9 3AB", RouteID: "r1"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPostcodesEmptyIsNoop(t *testing.T) {
	s, mock := newMockStore(t)

	require.NoError(t, s.InsertPostcodes(nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPostcodesRollsBackOnFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO route_postcodes`)
	prep.ExpectExec().WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := s.InsertPostcodes([]Postcode{{Postcode: "SK9 3AA", RouteID: "r1"}})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOACodesForCampaign(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT DISTINCT rp.oa21_code.*JOIN target_areas`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"oa21_code"}).
			AddRow("E00025680").
			AddRow("E00025691"))

	codes, err := s.OACodesForCampaign("c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"E00025680", "E00025691"}, codes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryCount(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM postcode_oa_lookup WHERE postcode LIKE 'WF%'`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(24117))

	count, err := s.QueryCount("SELECT COUNT(*) FROM postcode_oa_lookup WHERE postcode LIKE 'WF%'")
	require.NoError(t, err)
	assert.Equal(t, 24117, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryCountFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT`).
		WillReturnError(fmt.Errorf("relation does not exist"))

	_, err := s.QueryCount("SELECT COUNT(*) FROM postcode_oa_lookup")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count query")
}

func TestExecBatch(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO postcode_oa_lookup`).
		WillReturnResult(sqlmock.NewResult(0, 2000))

	err := s.ExecBatch("INSERT INTO postcode_oa_lookup (postcode, oa21_code) VALUES ('WF1 1AA','E1') ON CONFLICT (postcode) DO NOTHING;")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDemographicRowsMissingTenure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, oa21_code FROM demographic_feedback.*owner_occupied_pct IS NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "oa21_code"}).
			AddRow("d1", "E00025680"))

	rows, err := s.DemographicRowsMissingTenure()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "E00025680", rows[0].OA21Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
