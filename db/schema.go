package db

import "fmt"

const eventCursorsSchema = `
	CREATE TABLE IF NOT EXISTS event_cursors (
		chain_id BIGINT PRIMARY KEY,
		block_number BIGINT NOT NULL,
		tx_index BIGINT NOT NULL,
		log_index BIGINT NOT NULL
	)`

func gasTable(chainID uint64) string {
	return fmt.Sprintf("gas_%d", chainID)
}

func usersTable(chainID uint64) string {
	return fmt.Sprintf("bridge_users_%d", chainID)
}

func requestsTable(chainID uint64) string {
	return fmt.Sprintf("active_requests_%d", chainID)
}

// chainSchema returns the statements creating the tables of one chain.
// Amounts and fees are uint256 values stored as decimal strings.
func chainSchema(chainID uint64) []string {
	return []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			block_number BIGINT PRIMARY KEY,
			unix_seconds BIGINT NOT NULL,
			base_fee VARCHAR(78) NOT NULL
		)`, gasTable(chainID)),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			address VARCHAR(42) PRIMARY KEY
		)`, usersTable(chainID)),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			source VARCHAR(42) NOT NULL,
			request_id VARCHAR(78) NOT NULL,
			destination VARCHAR(42) NOT NULL,
			is_token_transfer BOOLEAN NOT NULL,
			token VARCHAR(42) NOT NULL,
			amount VARCHAR(78) NOT NULL,
			amount_out_min VARCHAR(78) NOT NULL,
			wanted_l1_gas_price VARCHAR(78) NOT NULL,
			l2_exec_gas_fee_deposit VARCHAR(78) NOT NULL,
			PRIMARY KEY (source, request_id)
		)`, requestsTable(chainID)),
	}
}
