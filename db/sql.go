package db

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/GollyTicker/ethereum-bridge-when-cheap/models"
)

// SQLDB implements Database on top of PostgreSQL or SQLite.
// Queries are written with '?' placeholders and rebound for the driver in use.
type SQLDB struct {
	db *sqlx.DB
}

type gasSampleRow struct {
	BlockNumber uint64 `db:"block_number"`
	UnixSeconds uint64 `db:"unix_seconds"`
	BaseFee     string `db:"base_fee"`
}

type activeRequestRow struct {
	Source              string `db:"source"`
	RequestID           string `db:"request_id"`
	Destination         string `db:"destination"`
	IsTokenTransfer     bool   `db:"is_token_transfer"`
	Token               string `db:"token"`
	Amount              string `db:"amount"`
	AmountOutMin        string `db:"amount_out_min"`
	WantedL1GasPrice    string `db:"wanted_l1_gas_price"`
	L2ExecGasFeeDeposit string `db:"l2_exec_gas_fee_deposit"`
}

type eventCursorRow struct {
	BlockNumber uint64 `db:"block_number"`
	TxIndex     uint   `db:"tx_index"`
	LogIndex    uint   `db:"log_index"`
}

// NewSQLDB opens a connection with the given driver and verifies it.
func NewSQLDB(ctx context.Context, driverName, dsn string) (*SQLDB, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if driverName == "sqlite3" {
		// single writer
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return &SQLDB{db: db}, nil
}

// NewSQLDBFromConn wraps an existing sqlx connection.
func NewSQLDBFromConn(db *sqlx.DB) *SQLDB {
	return &SQLDB{db: db}
}

func (s *SQLDB) Close() error {
	return s.db.Close()
}

func (s *SQLDB) Ping() error {
	return s.db.Ping()
}

// InitChains creates the event cursor table and the tables of every chain.
func (s *SQLDB) InitChains(ctx context.Context, chainIDs []uint64) error {
	if _, err := s.db.ExecContext(ctx, eventCursorsSchema); err != nil {
		return errors.Wrap(err, "failed to create event cursor table")
	}

	for _, chainID := range chainIDs {
		for _, stmt := range chainSchema(chainID) {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return errors.Wrapf(err, "failed to create tables for chain %d", chainID)
			}
		}
	}

	return nil
}

// RecordGasSample upserts the sample of a block. Re-recording a block overwrites it.
func (s *SQLDB) RecordGasSample(ctx context.Context, sample *models.GasSample) error {
	query := s.db.Rebind(fmt.Sprintf(`
		INSERT INTO %s (block_number, unix_seconds, base_fee)
		VALUES (?, ?, ?)
		ON CONFLICT (block_number) DO UPDATE
		SET unix_seconds = excluded.unix_seconds, base_fee = excluded.base_fee`,
		gasTable(sample.ChainID)))

	_, err := s.db.ExecContext(ctx, query, sample.BlockNumber, sample.UnixSeconds, sample.BaseFee.String())
	if err != nil {
		return errors.Wrapf(err, "failed to record gas sample for block %d", sample.BlockNumber)
	}

	return nil
}

// LatestRecordedBlock returns the highest recorded block, or false if the chain has no samples.
func (s *SQLDB) LatestRecordedBlock(ctx context.Context, chainID uint64) (uint64, bool, error) {
	var latest sql.NullInt64

	query := fmt.Sprintf(`SELECT MAX(block_number) FROM %s`, gasTable(chainID))
	if err := s.db.GetContext(ctx, &latest, query); err != nil {
		return 0, false, errors.Wrap(err, "failed to query latest recorded block")
	}

	if !latest.Valid {
		return 0, false, nil
	}

	return uint64(latest.Int64), true, nil
}

func (s *SQLDB) GetGasSample(ctx context.Context, chainID, blockNumber uint64) (*models.GasSample, error) {
	var row gasSampleRow

	query := s.db.Rebind(fmt.Sprintf(`
		SELECT block_number, unix_seconds, base_fee
		FROM %s
		WHERE block_number = ?`, gasTable(chainID)))

	err := s.db.GetContext(ctx, &row, query, blockNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query gas sample for block %d", blockNumber)
	}

	baseFee, err := parseAmount(row.BaseFee)
	if err != nil {
		return nil, err
	}

	return &models.GasSample{
		ChainID:     chainID,
		BlockNumber: row.BlockNumber,
		UnixSeconds: row.UnixSeconds,
		BaseFee:     baseFee,
	}, nil
}

// PercentileFee selects the base fee percentile over blocks in [fromBlock, toBlock].
func (s *SQLDB) PercentileFee(
	ctx context.Context,
	chainID, fromBlock, toBlock uint64,
	percentile float64,
) (*big.Int, error) {
	var raw []string

	query := s.db.Rebind(fmt.Sprintf(`
		SELECT base_fee
		FROM %s
		WHERE block_number >= ? AND block_number <= ?`, gasTable(chainID)))

	if err := s.db.SelectContext(ctx, &raw, query, fromBlock, toBlock); err != nil {
		return nil, errors.Wrap(err, "failed to query base fees")
	}

	fees := make([]*big.Int, 0, len(raw))
	for _, value := range raw {
		fee, err := parseAmount(value)
		if err != nil {
			return nil, err
		}
		fees = append(fees, fee)
	}

	return SelectPercentile(fees, percentile)
}

// AddKnownUser inserts the address unless it is already known.
func (s *SQLDB) AddKnownUser(ctx context.Context, chainID uint64, address common.Address) error {
	query := s.db.Rebind(fmt.Sprintf(`
		INSERT INTO %s (address)
		VALUES (?)
		ON CONFLICT (address) DO NOTHING`, usersTable(chainID)))

	if _, err := s.db.ExecContext(ctx, query, address.Hex()); err != nil {
		return errors.Wrapf(err, "failed to add known user %s", address.Hex())
	}

	return nil
}

func (s *SQLDB) GetActiveRequest(
	ctx context.Context,
	chainID uint64,
	source common.Address,
	requestID *big.Int,
) (*models.ActiveBridgeRequest, error) {
	var row activeRequestRow

	query := s.db.Rebind(fmt.Sprintf(`
		SELECT source, request_id, destination, is_token_transfer, token,
			amount, amount_out_min, wanted_l1_gas_price, l2_exec_gas_fee_deposit
		FROM %s
		WHERE source = ? AND request_id = ?`, requestsTable(chainID)))

	err := s.db.GetContext(ctx, &row, query, source.Hex(), requestID.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query active request %s", requestID)
	}

	return row.toModel(chainID)
}

// AddActiveRequest inserts a new request. Inserting an existing key fails.
func (s *SQLDB) AddActiveRequest(ctx context.Context, request *models.ActiveBridgeRequest) error {
	query := s.db.Rebind(fmt.Sprintf(`
		INSERT INTO %s (source, request_id, destination, is_token_transfer, token,
			amount, amount_out_min, wanted_l1_gas_price, l2_exec_gas_fee_deposit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, requestsTable(request.ChainID)))

	r := request.Request
	_, err := s.db.ExecContext(ctx, query,
		r.Source.Hex(),
		request.RequestID.String(),
		r.Destination.Hex(),
		r.IsTokenTransfer,
		r.Token.Hex(),
		amountString(r.Amount),
		amountString(r.AmountOutMin),
		amountString(r.WantedL1GasPrice),
		amountString(r.L2execGasFeeDeposit),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to add active request %s", request.RequestID)
	}

	return nil
}

// DeleteActiveRequest removes the request if present.
func (s *SQLDB) DeleteActiveRequest(
	ctx context.Context,
	chainID uint64,
	source common.Address,
	requestID *big.Int,
) error {
	query := s.db.Rebind(fmt.Sprintf(`
		DELETE FROM %s
		WHERE source = ? AND request_id = ?`, requestsTable(chainID)))

	if _, err := s.db.ExecContext(ctx, query, source.Hex(), requestID.String()); err != nil {
		return errors.Wrapf(err, "failed to delete active request %s", requestID)
	}

	return nil
}

func (s *SQLDB) GetEventCursor(ctx context.Context, chainID uint64) (*models.EventCursor, error) {
	var row eventCursorRow

	query := s.db.Rebind(`
		SELECT block_number, tx_index, log_index
		FROM event_cursors
		WHERE chain_id = ?`)

	err := s.db.GetContext(ctx, &row, query, chainID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query event cursor")
	}

	return &models.EventCursor{
		ChainID: chainID,
		Position: models.EventPosition{
			BlockNumber: row.BlockNumber,
			TxIndex:     row.TxIndex,
			LogIndex:    row.LogIndex,
		},
	}, nil
}

// UpdateEventCursor stores the position of the last replayed event.
func (s *SQLDB) UpdateEventCursor(ctx context.Context, cursor *models.EventCursor) error {
	query := s.db.Rebind(`
		INSERT INTO event_cursors (chain_id, block_number, tx_index, log_index)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (chain_id) DO UPDATE
		SET block_number = excluded.block_number,
			tx_index = excluded.tx_index,
			log_index = excluded.log_index`)

	p := cursor.Position
	if _, err := s.db.ExecContext(ctx, query, cursor.ChainID, p.BlockNumber, p.TxIndex, p.LogIndex); err != nil {
		return errors.Wrapf(err, "failed to update event cursor to %s", p)
	}

	return nil
}

// Status counts the rows stored for a chain.
func (s *SQLDB) Status(ctx context.Context, chainID uint64) (*models.ChainStatus, error) {
	status := &models.ChainStatus{ChainID: chainID}

	counts := []struct {
		table string
		dest  *uint64
	}{
		{gasTable(chainID), &status.GasSamples},
		{usersTable(chainID), &status.KnownUsers},
		{requestsTable(chainID), &status.ActiveRequests},
	}

	for _, c := range counts {
		if err := s.db.GetContext(ctx, c.dest, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, c.table)); err != nil {
			return nil, errors.Wrapf(err, "failed to count %s", c.table)
		}
	}

	return status, nil
}

func (r activeRequestRow) toModel(chainID uint64) (*models.ActiveBridgeRequest, error) {
	requestID, err := parseAmount(r.RequestID)
	if err != nil {
		return nil, err
	}

	amounts := make([]*big.Int, 4)
	for i, value := range []string{r.Amount, r.AmountOutMin, r.WantedL1GasPrice, r.L2ExecGasFeeDeposit} {
		if amounts[i], err = parseAmount(value); err != nil {
			return nil, err
		}
	}

	return &models.ActiveBridgeRequest{
		ChainID:   chainID,
		RequestID: requestID,
		Request: models.BridgeRequest{
			Source:              common.HexToAddress(r.Source),
			Destination:         common.HexToAddress(r.Destination),
			IsTokenTransfer:     r.IsTokenTransfer,
			Token:               common.HexToAddress(r.Token),
			Amount:              amounts[0],
			AmountOutMin:        amounts[1],
			WantedL1GasPrice:    amounts[2],
			L2execGasFeeDeposit: amounts[3],
		},
	}, nil
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, errors.Errorf("invalid stored amount %q", value)
	}
	return amount, nil
}

func amountString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
