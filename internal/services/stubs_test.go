package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
)

var testTime = time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

type stubRow struct {
	values []any
	err    error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d targets for %d values", len(dest), len(r.values))
	}
	for i := range dest {
		target := reflect.ValueOf(dest[i]).Elem()
		if r.values[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		value := reflect.ValueOf(r.values[i])
		if !value.Type().AssignableTo(target.Type()) {
			return fmt.Errorf("scan: cannot assign %s to %s", value.Type(), target.Type())
		}
		target.Set(value)
	}
	return nil
}

// stubDBTX answers QueryRow through queryRowFn and records every statement.
type stubDBTX struct {
	mu         sync.Mutex
	queryRowFn func(ctx context.Context, query string, args ...any) stubRow
	execTag    string
	statements []string
}

func (db *stubDBTX) record(query string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.statements = append(db.statements, strings.Join(strings.Fields(query), " "))
}

func (db *stubDBTX) Exec(_ context.Context, query string, _ ...any) (pgconn.CommandTag, error) {
	db.record(query)
	return pgconn.NewCommandTag(db.execTag), nil
}

func (db *stubDBTX) Query(_ context.Context, query string, _ ...any) (pgx.Rows, error) {
	db.record(query)
	return nil, errors.New("not implemented")
}

func (db *stubDBTX) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	db.record(query)
	if db.queryRowFn == nil {
		return stubRow{err: pgx.ErrNoRows}
	}
	return db.queryRowFn(ctx, query, args...)
}

func (db *stubDBTX) ran(fragment string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, statement := range db.statements {
		if strings.Contains(statement, fragment) {
			return true
		}
	}
	return false
}

// stubTx routes statements to a stubDBTX. Methods the services never call are
// left to the nil embedded interface.
type stubTx struct {
	pgx.Tx
	db         *stubDBTX
	commitErr  error
	committed  bool
	rolledBack bool
}

func (tx *stubTx) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	return tx.db.Exec(ctx, query, args...)
}

func (tx *stubTx) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return tx.db.Query(ctx, query, args...)
}

func (tx *stubTx) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return tx.db.QueryRow(ctx, query, args...)
}

func (tx *stubTx) Commit(context.Context) error {
	if tx.commitErr != nil {
		return tx.commitErr
	}
	tx.committed = true
	return nil
}

func (tx *stubTx) Rollback(context.Context) error {
	if !tx.committed {
		tx.rolledBack = true
	}
	return nil
}

type stubBeginner struct {
	tx     *stubTx
	err    error
	begins int
}

func (b *stubBeginner) Begin(context.Context) (pgx.Tx, error) {
	b.begins++
	if b.err != nil {
		return nil, b.err
	}
	return b.tx, nil
}

func newStubBeginner(queryRowFn func(ctx context.Context, query string, args ...any) stubRow) (*stubBeginner, *stubDBTX) {
	db := &stubDBTX{queryRowFn: queryRowFn, execTag: "UPDATE 1"}
	return &stubBeginner{tx: &stubTx{db: db}}, db
}

type stubUserRepo struct {
	users map[int64]*models.User
	err   error
}

func (r *stubUserRepo) GetByID(_ context.Context, id int64) (*models.User, error) {
	if r.err != nil {
		return nil, r.err
	}
	user, ok := r.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return user, nil
}

type recordingPublisher struct {
	deliveries []*ChatDelivery
	err        error
}

func (p *recordingPublisher) Publish(_ context.Context, delivery *ChatDelivery) error {
	p.deliveries = append(p.deliveries, delivery)
	return p.err
}

func conversationRow(id, ownerID, sitterID int64) stubRow {
	return stubRow{values: []any{id, ownerID, sitterID, testTime, testTime}}
}

// insertedMessageRow echoes the INSERT arguments back as the stored row.
func insertedMessageRow(id int64, args []any) stubRow {
	return stubRow{values: []any{
		id,
		args[0].(int64),
		args[1].(int64),
		args[2].(string),
		args[3].(*string),
		args[4].([]byte),
		false,
		testTime,
	}}
}

func bookingRow(b models.Booking) stubRow {
	return stubRow{values: []any{
		b.ID, b.OwnerID, b.SitterID, b.StartAt, b.EndAt, b.Status, b.Notes, b.TotalPrice, testTime, testTime,
	}}
}
