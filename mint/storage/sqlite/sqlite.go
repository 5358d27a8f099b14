package sqlite

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/asmogo/cdk/cashu"
	"github.com/asmogo/cdk/cashu/nuts/nut04"
	"github.com/asmogo/cdk/cashu/nuts/nut05"
	"github.com/asmogo/cdk/cashu/nuts/nut07"
	"github.com/asmogo/cdk/crypto"
	"github.com/asmogo/cdk/mint/storage"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/mattn/go-sqlite3"
)

type SQLiteDB struct {
	db *sql.DB
}

func InitSQLite(path, migrationPath string) (*SQLiteDB, error) {
	dbpath := filepath.Join(path, "mint.sqlite.db")

	// immediate txlock makes write transactions take the write lock
	// at BEGIN, so concurrent writers serialize instead of failing
	// at commit time.
	dsn := fmt.Sprintf("%s?_txlock=immediate&_journal_mode=WAL&_busy_timeout=5000", dbpath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", migrationPath), fmt.Sprintf("sqlite3://%s", dbpath))
	if err != nil {
		return nil, err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &SQLiteDB{db: db}, nil
}

func (sqlite *SQLiteDB) Close() {
	sqlite.db.Close()
}

func (sqlite *SQLiteDB) GetBalance() (uint64, error) {
	var balance uint64
	row := sqlite.db.QueryRow("SELECT balance FROM balance")
	err := row.Scan(&balance)
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (sqlite *SQLiteDB) SaveSeed(seed []byte) error {
	hexSeed := hex.EncodeToString(seed)

	_, err := sqlite.db.Exec(`
	INSERT INTO seed (id, seed) VALUES (?, ?)
	`, "id", hexSeed)

	return err
}

func (sqlite *SQLiteDB) GetSeed() ([]byte, error) {
	var hexSeed string
	row := sqlite.db.QueryRow("SELECT seed FROM seed WHERE id = ?", "id")
	err := row.Scan(&hexSeed)
	if err != nil {
		return nil, err
	}

	seed, err := hex.DecodeString(hexSeed)
	if err != nil {
		return nil, err
	}

	return seed, nil
}

func (sqlite *SQLiteDB) SaveKeyset(keyset storage.DBKeyset) error {
	_, err := sqlite.db.Exec(`
		INSERT INTO keysets (id, unit, active, seed, derivation_path_idx, input_fee_ppk, counter)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, keyset.Id, keyset.Unit, keyset.Active, keyset.Seed, keyset.DerivationPathIdx, keyset.InputFeePpk, keyset.Counter)

	return err
}

func (sqlite *SQLiteDB) GetKeysets() ([]storage.DBKeyset, error) {
	keysets := []storage.DBKeyset{}

	rows, err := sqlite.db.Query("SELECT * FROM keysets")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var keyset storage.DBKeyset
		err := rows.Scan(
			&keyset.Id,
			&keyset.Unit,
			&keyset.Active,
			&keyset.Seed,
			&keyset.DerivationPathIdx,
			&keyset.InputFeePpk,
			&keyset.Counter,
		)
		if err != nil {
			return nil, err
		}
		keysets = append(keysets, keyset)
	}

	return keysets, nil
}

func (sqlite *SQLiteDB) UpdateKeysetActive(id string, active bool) error {
	result, err := sqlite.db.Exec("UPDATE keysets SET active = ? WHERE id = ?", active, id)
	if err != nil {
		return err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return errors.New("keyset was not updated")
	}
	return nil
}

func (sqlite *SQLiteDB) GetProofs(Ys []string) ([]storage.DBProof, error) {
	return getProofs(sqlite.db, Ys)
}

func (sqlite *SQLiteDB) GetIssuedEcash() (map[string]uint64, error) {
	return sumByKeyset(sqlite.db, "SELECT keyset_id, SUM(amount) FROM blind_signatures GROUP BY keyset_id")
}

func (sqlite *SQLiteDB) GetRedeemedEcash() (map[string]uint64, error) {
	return sumByKeyset(sqlite.db,
		"SELECT keyset_id, SUM(amount) FROM proofs WHERE state = ? GROUP BY keyset_id", nut07.Spent.String())
}

func sumByKeyset(db *sql.DB, query string, args ...any) (map[string]uint64, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	amounts := make(map[string]uint64)
	for rows.Next() {
		var keysetId string
		var amount uint64
		if err := rows.Scan(&keysetId, &amount); err != nil {
			return nil, err
		}
		amounts[keysetId] = amount
	}

	return amounts, rows.Err()
}

func (sqlite *SQLiteDB) SaveMintQuote(mintQuote storage.MintQuote) error {
	_, err := sqlite.db.Exec(
		`INSERT INTO mint_quotes
		(id, payment_method, payment_request, payment_hash, amount, unit, state, expiry, amount_paid, amount_issued, pubkey)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mintQuote.Id,
		string(mintQuote.PaymentMethod),
		mintQuote.PaymentRequest,
		mintQuote.PaymentHash,
		mintQuote.Amount,
		mintQuote.Unit,
		mintQuote.State.String(),
		mintQuote.Expiry,
		mintQuote.AmountPaid,
		mintQuote.AmountIssued,
		mintQuote.Pubkey,
	)

	return err
}

func (sqlite *SQLiteDB) GetMintQuote(quoteId string) (storage.MintQuote, error) {
	row := sqlite.db.QueryRow("SELECT * FROM mint_quotes WHERE id = ?", quoteId)
	return scanMintQuote(row)
}

func (sqlite *SQLiteDB) GetMintQuoteByPaymentHash(paymentHash string) (storage.MintQuote, error) {
	row := sqlite.db.QueryRow("SELECT * FROM mint_quotes WHERE payment_hash = ?", paymentHash)
	return scanMintQuote(row)
}

func (sqlite *SQLiteDB) SaveMeltQuote(meltQuote storage.MeltQuote) error {
	_, err := sqlite.db.Exec(`
		INSERT INTO melt_quotes
		(id, payment_method, request, payment_hash, amount, fee_reserve, unit, state, expiry, preimage)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meltQuote.Id,
		string(meltQuote.PaymentMethod),
		meltQuote.InvoiceRequest,
		meltQuote.PaymentHash,
		meltQuote.Amount,
		meltQuote.FeeReserve,
		meltQuote.Unit,
		meltQuote.State.String(),
		meltQuote.Expiry,
		meltQuote.Preimage,
	)

	return err
}

func (sqlite *SQLiteDB) GetMeltQuote(quoteId string) (storage.MeltQuote, error) {
	row := sqlite.db.QueryRow("SELECT * FROM melt_quotes WHERE id = ?", quoteId)
	return scanMeltQuote(row)
}

func (sqlite *SQLiteDB) GetMeltQuoteByPaymentRequest(request string) (storage.MeltQuote, error) {
	// only quotes that could still get paid block a new quote for the
	// same payment request
	row := sqlite.db.QueryRow(
		"SELECT * FROM melt_quotes WHERE request = ? AND state IN ('UNPAID', 'PENDING', 'UNKNOWN')", request)
	return scanMeltQuote(row)
}

func (sqlite *SQLiteDB) GetBlindSignature(B_ string) (cashu.BlindedSignature, error) {
	row := sqlite.db.QueryRow("SELECT amount, c_, keyset_id, e, s FROM blind_signatures WHERE b_ = ?", B_)

	var signature cashu.BlindedSignature
	var e sql.NullString
	var s sql.NullString

	err := row.Scan(
		&signature.Amount,
		&signature.C_,
		&signature.Id,
		&e,
		&s,
	)
	if err != nil {
		return cashu.BlindedSignature{}, err
	}

	if !e.Valid || !s.Valid {
		signature.DLEQ = nil
	} else {
		signature.DLEQ = &cashu.DLEQProof{
			E: e.String,
			S: s.String,
		}
	}

	return signature, nil
}

func (sqlite *SQLiteDB) GetBlindSignatures(B_s []string) (cashu.BlindedSignatures, error) {
	return getBlindSignatures(sqlite.db, B_s)
}

func (sqlite *SQLiteDB) BeginTx(ctx context.Context) (storage.Tx, error) {
	tx, err := sqlite.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) GetMintQuote(quoteId string) (storage.MintQuote, error) {
	row := t.tx.QueryRow("SELECT * FROM mint_quotes WHERE id = ?", quoteId)
	return scanMintQuote(row)
}

func (t *sqliteTx) UpdateMintQuote(quoteId string, amountPaid, amountIssued uint64, state nut04.State) error {
	result, err := t.tx.Exec(
		"UPDATE mint_quotes SET amount_paid = ?, amount_issued = ?, state = ? WHERE id = ?",
		amountPaid, amountIssued, state.String(), quoteId,
	)
	if err != nil {
		return err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return errors.New("mint quote was not updated")
	}
	return nil
}

func (t *sqliteTx) GetMeltQuote(quoteId string) (storage.MeltQuote, error) {
	row := t.tx.QueryRow("SELECT * FROM melt_quotes WHERE id = ?", quoteId)
	return scanMeltQuote(row)
}

func (t *sqliteTx) UpdateMeltQuote(quoteId, preimage string, state nut05.State) error {
	result, err := t.tx.Exec(
		"UPDATE melt_quotes SET state = ?, preimage = ? WHERE id = ?",
		state.String(), preimage, quoteId,
	)
	if err != nil {
		return err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return errors.New("melt quote was not updated")
	}
	return nil
}

func (t *sqliteTx) AddProofs(proofs cashu.Proofs, state nut07.State, meltQuoteId string) error {
	stmt, err := t.tx.Prepare(`
		INSERT INTO proofs (y, amount, keyset_id, secret, c, state, melt_quote_id, witness) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	quoteId := sql.NullString{String: meltQuoteId, Valid: len(meltQuoteId) > 0}
	for _, proof := range proofs {
		Y, err := crypto.HashToCurve([]byte(proof.Secret))
		if err != nil {
			return err
		}
		Yhex := hex.EncodeToString(Y.SerializeCompressed())

		if _, err := stmt.Exec(Yhex, proof.Amount, proof.Id, proof.Secret, proof.C, state.String(), quoteId, proof.Witness); err != nil {
			return err
		}
	}

	return nil
}

func (t *sqliteTx) SetProofsState(Ys []string, state nut07.State) error {
	if len(Ys) == 0 {
		return nil
	}

	query := `UPDATE proofs SET state = ? WHERE y in (?` + strings.Repeat(",?", len(Ys)-1) + `)`
	args := make([]any, 0, len(Ys)+1)
	args = append(args, state.String())
	for _, y := range Ys {
		args = append(args, y)
	}

	result, err := t.tx.Exec(query, args...)
	if err != nil {
		return err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != int64(len(Ys)) {
		return errors.New("not all proofs were updated")
	}
	return nil
}

func (t *sqliteTx) RemoveProofs(Ys []string) error {
	if len(Ys) == 0 {
		return nil
	}

	query := `DELETE FROM proofs WHERE y in (?` + strings.Repeat(",?", len(Ys)-1) + `)`
	args := make([]any, len(Ys))
	for i, y := range Ys {
		args[i] = y
	}

	result, err := t.tx.Exec(query, args...)
	if err != nil {
		return err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != int64(len(Ys)) {
		return errors.New("not all proofs were removed")
	}
	return nil
}

func (t *sqliteTx) GetProofs(Ys []string) ([]storage.DBProof, error) {
	return getProofs(t.tx, Ys)
}

func (t *sqliteTx) GetProofsByMeltQuote(meltQuoteId string) ([]storage.DBProof, error) {
	rows, err := t.tx.Query("SELECT * FROM proofs WHERE melt_quote_id = ?", meltQuoteId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanProofRows(rows)
}

func (t *sqliteTx) SaveBlindSignature(B_ string, blindSignature cashu.BlindedSignature, quoteId string) error {
	var e, s sql.NullString
	if blindSignature.DLEQ != nil {
		e = sql.NullString{String: blindSignature.DLEQ.E, Valid: true}
		s = sql.NullString{String: blindSignature.DLEQ.S, Valid: true}
	}

	_, err := t.tx.Exec(`
		INSERT INTO blind_signatures (b_, c_, keyset_id, amount, e, s, quote_id) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		B_,
		blindSignature.C_,
		blindSignature.Id,
		blindSignature.Amount,
		e,
		s,
		sql.NullString{String: quoteId, Valid: len(quoteId) > 0},
	)
	return err
}

func (t *sqliteTx) GetBlindSignatures(B_s []string) (cashu.BlindedSignatures, error) {
	return getBlindSignatures(t.tx, B_s)
}

func (t *sqliteTx) IncrementKeysetCounter(keysetId string, n uint32) error {
	result, err := t.tx.Exec("UPDATE keysets SET counter = counter + ? WHERE id = ?", n, keysetId)
	if err != nil {
		return err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return errors.New("keyset counter was not updated")
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx so reads can run
// inside or outside a transaction.
type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

func getProofs(q querier, Ys []string) ([]storage.DBProof, error) {
	proofs := []storage.DBProof{}
	if len(Ys) == 0 {
		return proofs, nil
	}

	query := `SELECT * FROM proofs WHERE y in (?` + strings.Repeat(",?", len(Ys)-1) + `)`

	args := make([]any, len(Ys))
	for i, y := range Ys {
		args[i] = y
	}

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanProofRows(rows)
}

func scanProofRows(rows *sql.Rows) ([]storage.DBProof, error) {
	proofs := []storage.DBProof{}
	for rows.Next() {
		var proof storage.DBProof
		var state string
		var meltQuoteId sql.NullString
		err := rows.Scan(
			&proof.Y,
			&proof.Amount,
			&proof.Id,
			&proof.Secret,
			&proof.C,
			&state,
			&meltQuoteId,
			&proof.Witness,
		)
		if err != nil {
			return nil, err
		}
		proof.State = nut07.StringToState(state)
		proof.MeltQuoteId = meltQuoteId.String

		proofs = append(proofs, proof)
	}

	return proofs, rows.Err()
}

func getBlindSignatures(q querier, B_s []string) (cashu.BlindedSignatures, error) {
	signatures := cashu.BlindedSignatures{}
	if len(B_s) == 0 {
		return signatures, nil
	}

	query := `SELECT amount, c_, keyset_id, e, s FROM blind_signatures WHERE b_ in (?` + strings.Repeat(",?", len(B_s)-1) + `)`

	args := make([]any, len(B_s))
	for i, B_ := range B_s {
		args[i] = B_
	}

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var signature cashu.BlindedSignature
		var e sql.NullString
		var s sql.NullString

		err := rows.Scan(
			&signature.Amount,
			&signature.C_,
			&signature.Id,
			&e,
			&s,
		)
		if err != nil {
			return nil, err
		}

		if !e.Valid || !s.Valid {
			signature.DLEQ = nil
		} else {
			signature.DLEQ = &cashu.DLEQProof{
				E: e.String,
				S: s.String,
			}
		}

		signatures = append(signatures, signature)
	}

	return signatures, nil
}

// scanner is satisfied by *sql.Row.
type scanner interface {
	Scan(dest ...any) error
}

func scanMintQuote(row scanner) (storage.MintQuote, error) {
	var mintQuote storage.MintQuote
	var method string
	var state string
	var pubkey sql.NullString

	err := row.Scan(
		&mintQuote.Id,
		&method,
		&mintQuote.PaymentRequest,
		&mintQuote.PaymentHash,
		&mintQuote.Amount,
		&mintQuote.Unit,
		&state,
		&mintQuote.Expiry,
		&mintQuote.AmountPaid,
		&mintQuote.AmountIssued,
		&pubkey,
	)
	if err != nil {
		return storage.MintQuote{}, err
	}
	mintQuote.PaymentMethod = cashu.PaymentMethod(method)
	mintQuote.State = nut04.StringToState(state)
	mintQuote.Pubkey = pubkey.String

	return mintQuote, nil
}

func scanMeltQuote(row scanner) (storage.MeltQuote, error) {
	var meltQuote storage.MeltQuote
	var method string
	var state string

	err := row.Scan(
		&meltQuote.Id,
		&method,
		&meltQuote.InvoiceRequest,
		&meltQuote.PaymentHash,
		&meltQuote.Amount,
		&meltQuote.FeeReserve,
		&meltQuote.Unit,
		&state,
		&meltQuote.Expiry,
		&meltQuote.Preimage,
	)
	if err != nil {
		return storage.MeltQuote{}, err
	}
	meltQuote.PaymentMethod = cashu.PaymentMethod(method)
	meltQuote.State = nut05.StringToState(state)

	return meltQuote, nil
}
