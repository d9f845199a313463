package db

import (
	"context"
	"math/big"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GollyTicker/ethereum-bridge-when-cheap/models"
)

var (
	testSource      = common.HexToAddress("0x5432109876543210987654321098765432109876")
	testDestination = common.HexToAddress("0x9876543210987654321098765432109876543210")
)

func setupTestDB(t *testing.T) (*SQLDB, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err, "Failed to create mock DB")

	t.Cleanup(func() {
		_ = mockDB.Close()
	})

	return NewSQLDBFromConn(sqlx.NewDb(mockDB, "postgres")), mock
}

func testActiveRequest() *models.ActiveBridgeRequest {
	return &models.ActiveBridgeRequest{
		ChainID:   10,
		RequestID: big.NewInt(7),
		Request: models.BridgeRequest{
			Source:              testSource,
			Destination:         testDestination,
			IsTokenTransfer:     false,
			Amount:              big.NewInt(1_000_000_000_000_000_000),
			AmountOutMin:        big.NewInt(0),
			WantedL1GasPrice:    big.NewInt(15_000_000_000),
			L2execGasFeeDeposit: big.NewInt(400_000_000_000_000),
		},
	}
}

func TestSQLDB_InitChains(t *testing.T) {
	sqlDB, mock := setupTestDB(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS event_cursors`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS gas_10 `).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS bridge_users_10 `).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS active_requests_10 `).WillReturnResult(sqlmock.NewResult(0, 0))

	err := sqlDB.InitChains(context.Background(), []uint64{10})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDB_RecordGasSample(t *testing.T) {
	sqlDB, mock := setupTestDB(t)

	mock.ExpectExec(`(?s)INSERT INTO gas_10.*ON CONFLICT \(block_number\) DO UPDATE`).
		WithArgs(uint64(100), uint64(1700000000), "12345").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := sqlDB.RecordGasSample(context.Background(), &models.GasSample{
		ChainID:     10,
		BlockNumber: 100,
		UnixSeconds: 1700000000,
		BaseFee:     big.NewInt(12345),
	})

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDB_LatestRecordedBlock(t *testing.T) {
	t.Run("empty table", func(t *testing.T) {
		sqlDB, mock := setupTestDB(t)

		mock.ExpectQuery(`SELECT MAX\(block_number\) FROM gas_10`).
			WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

		latest, ok, err := sqlDB.LatestRecordedBlock(context.Background(), 10)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, latest)
	})

	t.Run("with samples", func(t *testing.T) {
		sqlDB, mock := setupTestDB(t)

		mock.ExpectQuery(`SELECT MAX\(block_number\) FROM gas_10`).
			WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(120)))

		latest, ok, err := sqlDB.LatestRecordedBlock(context.Background(), 10)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, uint64(120), latest)
	})
}

func TestSQLDB_GetGasSample(t *testing.T) {
	columns := []string{"block_number", "unix_seconds", "base_fee"}

	t.Run("absent", func(t *testing.T) {
		sqlDB, mock := setupTestDB(t)

		mock.ExpectQuery(`SELECT block_number, unix_seconds, base_fee\s+FROM gas_10\s+WHERE block_number = \$1`).
			WithArgs(uint64(5)).
			WillReturnRows(sqlmock.NewRows(columns))

		sample, err := sqlDB.GetGasSample(context.Background(), 10, 5)
		assert.NoError(t, err)
		assert.Nil(t, sample)
	})

	t.Run("present", func(t *testing.T) {
		sqlDB, mock := setupTestDB(t)

		mock.ExpectQuery(`FROM gas_10`).
			WithArgs(uint64(5)).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(int64(5), int64(1700000000), "115792089237316195423570985008687907853269984665640564039457584007913129639935"))

		sample, err := sqlDB.GetGasSample(context.Background(), 10, 5)
		require.NoError(t, err)
		require.NotNil(t, sample)
		assert.Equal(t, uint64(10), sample.ChainID)
		assert.Equal(t, uint64(5), sample.BlockNumber)
		assert.Equal(t, uint64(1700000000), sample.UnixSeconds)
		assert.Equal(t, 256, sample.BaseFee.BitLen())
	})

	t.Run("corrupt fee", func(t *testing.T) {
		sqlDB, mock := setupTestDB(t)

		mock.ExpectQuery(`FROM gas_10`).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(int64(5), int64(1), "0xnope"))

		_, err := sqlDB.GetGasSample(context.Background(), 10, 5)
		assert.Error(t, err)
	})
}

func TestSQLDB_PercentileFee(t *testing.T) {
	sqlDB, mock := setupTestDB(t)

	mock.ExpectQuery(`SELECT base_fee\s+FROM gas_10\s+WHERE block_number >= \$1 AND block_number <= \$2`).
		WithArgs(uint64(90), uint64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"base_fee"}).
			AddRow("40").
			AddRow("10").
			AddRow("30").
			AddRow("20"))

	fee, err := sqlDB.PercentileFee(context.Background(), 10, 90, 100, 0.5)
	require.NoError(t, err)
	assert.Equal(t, "30", fee.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDB_PercentileFeeEmptyWindow(t *testing.T) {
	sqlDB, mock := setupTestDB(t)

	mock.ExpectQuery(`SELECT base_fee`).
		WillReturnRows(sqlmock.NewRows([]string{"base_fee"}))

	_, err := sqlDB.PercentileFee(context.Background(), 10, 90, 100, 0.5)
	assert.ErrorIs(t, err, ErrNoSamples)
}

func TestSQLDB_AddKnownUser(t *testing.T) {
	sqlDB, mock := setupTestDB(t)

	mock.ExpectExec(`(?s)INSERT INTO bridge_users_10.*ON CONFLICT \(address\) DO NOTHING`).
		WithArgs(testSource.Hex()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, sqlDB.AddKnownUser(context.Background(), 10, testSource))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDB_ActiveRequests(t *testing.T) {
	request := testActiveRequest()

	t.Run("add", func(t *testing.T) {
		sqlDB, mock := setupTestDB(t)

		mock.ExpectExec(`INSERT INTO active_requests_10`).
			WithArgs(
				testSource.Hex(),
				"7",
				testDestination.Hex(),
				false,
				common.Address{}.Hex(),
				"1000000000000000000",
				"0",
				"15000000000",
				"400000000000000",
			).
			WillReturnResult(sqlmock.NewResult(1, 1))

		assert.NoError(t, sqlDB.AddActiveRequest(context.Background(), request))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get", func(t *testing.T) {
		sqlDB, mock := setupTestDB(t)

		rows := sqlmock.NewRows([]string{
			"source", "request_id", "destination", "is_token_transfer", "token",
			"amount", "amount_out_min", "wanted_l1_gas_price", "l2_exec_gas_fee_deposit",
		}).AddRow(
			testSource.Hex(), "7", testDestination.Hex(), false, common.Address{}.Hex(),
			"1000000000000000000", "0", "15000000000", "400000000000000",
		)

		mock.ExpectQuery(`FROM active_requests_10\s+WHERE source = \$1 AND request_id = \$2`).
			WithArgs(testSource.Hex(), "7").
			WillReturnRows(rows)

		stored, err := sqlDB.GetActiveRequest(context.Background(), 10, testSource, big.NewInt(7))
		require.NoError(t, err)
		assertSameRequest(t, request, stored)
	})

	t.Run("delete", func(t *testing.T) {
		sqlDB, mock := setupTestDB(t)

		mock.ExpectExec(`DELETE FROM active_requests_10`).
			WithArgs(testSource.Hex(), "7").
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.NoError(t, sqlDB.DeleteActiveRequest(context.Background(), 10, testSource, big.NewInt(7)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSQLDB_EventCursor(t *testing.T) {
	columns := []string{"block_number", "tx_index", "log_index"}

	t.Run("absent", func(t *testing.T) {
		sqlDB, mock := setupTestDB(t)

		mock.ExpectQuery(`FROM event_cursors\s+WHERE chain_id = \$1`).
			WithArgs(uint64(10)).
			WillReturnRows(sqlmock.NewRows(columns))

		cursor, err := sqlDB.GetEventCursor(context.Background(), 10)
		assert.NoError(t, err)
		assert.Nil(t, cursor)
	})

	t.Run("present", func(t *testing.T) {
		sqlDB, mock := setupTestDB(t)

		mock.ExpectQuery(`FROM event_cursors`).
			WithArgs(uint64(10)).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(int64(500), int64(3), int64(9)))

		cursor, err := sqlDB.GetEventCursor(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, models.EventPosition{BlockNumber: 500, TxIndex: 3, LogIndex: 9}, cursor.Position)
	})

	t.Run("update", func(t *testing.T) {
		sqlDB, mock := setupTestDB(t)

		mock.ExpectExec(`(?s)INSERT INTO event_cursors.*ON CONFLICT \(chain_id\) DO UPDATE`).
			WithArgs(uint64(10), uint64(500), uint(3), uint(9)).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := sqlDB.UpdateEventCursor(context.Background(), &models.EventCursor{
			ChainID:  10,
			Position: models.EventPosition{BlockNumber: 500, TxIndex: 3, LogIndex: 9},
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSQLDB_Status(t *testing.T) {
	sqlDB, mock := setupTestDB(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM gas_10`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(250)))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM bridge_users_10`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM active_requests_10`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))

	status, err := sqlDB.Status(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, &models.ChainStatus{ChainID: 10, GasSamples: 250, KnownUsers: 4, ActiveRequests: 2}, status)
}

func assertSameRequest(t *testing.T, expected, actual *models.ActiveBridgeRequest) {
	t.Helper()

	require.NotNil(t, actual)
	assert.Equal(t, expected.ChainID, actual.ChainID)
	assert.Equal(t, expected.RequestID.String(), actual.RequestID.String())

	e, a := expected.Request, actual.Request
	assert.Equal(t, e.Source, a.Source)
	assert.Equal(t, e.Destination, a.Destination)
	assert.Equal(t, e.IsTokenTransfer, a.IsTokenTransfer)
	assert.Equal(t, e.Token, a.Token)
	assert.Equal(t, e.Amount.String(), a.Amount.String())
	assert.Equal(t, e.AmountOutMin.String(), a.AmountOutMin.String())
	assert.Equal(t, e.WantedL1GasPrice.String(), a.WantedL1GasPrice.String())
	assert.Equal(t, e.L2execGasFeeDeposit.String(), a.L2execGasFeeDeposit.String())
}
